package mesh

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

func TestSendTextStoresPendingMessage(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)

	ids, err := env.manager.SendText(context.Background(), targetNum, 0, "hello there", 0, false)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("ids = %d, want 1", len(ids))
	}

	msg, ok := env.store.messages.get(ids[0])
	if !ok {
		t.Fatal("outbound row missing")
	}
	if msg.DeliveryState != domain.DeliveryPending {
		t.Fatalf("state = %v, want pending", msg.DeliveryState)
	}
	if !msg.WantAck {
		t.Fatal("direct message must request an ack")
	}
	if msg.Channel != domain.DMChannel {
		t.Fatalf("channel = %d, want DM marker", msg.Channel)
	}
	if msg.RequestID == 0 {
		t.Fatal("request id not recorded")
	}
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)

	long := strings.Repeat("mesh keeper says hello ", 20) // ~460 bytes
	ids, err := env.manager.SendText(context.Background(), domain.BroadcastNodeNum, 0, long, 0, false)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(ids) < 3 {
		t.Fatalf("parts = %d, want at least 3", len(ids))
	}
	for _, id := range ids {
		msg, ok := env.store.messages.get(id)
		if !ok {
			t.Fatalf("part %s missing", id)
		}
		if len(msg.Text) > maxTextPayloadBytes {
			t.Fatalf("part %d bytes long, exceeds limit", len(msg.Text))
		}
	}
}

func TestSendTextRequiresConnection(t *testing.T) {
	env := newTestEnv(t, false)
	seedLocalNode(env, localNum)

	if _, err := env.manager.SendText(context.Background(), targetNum, 0, "hello", 0, false); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestSendTextRejectsEmptyText(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)

	if _, err := env.manager.SendText(context.Background(), targetNum, 0, "   ", 0, false); err == nil {
		t.Fatal("empty text accepted")
	}
}

func TestSendTracerouteStampsBookkeeping(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)
	ctx := context.Background()

	node := welcomeCandidate(env, targetNum, "Hilltop", "HILL")
	if err := env.store.nodes.Upsert(ctx, node); err != nil {
		t.Fatalf("seed node: %v", err)
	}

	if err := env.manager.SendTraceroute(ctx, targetNum, 0); err != nil {
		t.Fatalf("traceroute: %v", err)
	}

	stored, _, _ := env.store.nodes.Get(ctx, targetNum)
	if stored.LastTracerouteAt == nil || !stored.LastTracerouteAt.Equal(env.clk.Now()) {
		t.Fatalf("traceroute timestamp = %v", stored.LastTracerouteAt)
	}
}

func TestSplitTextUTF8NeverBreaksRunes(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 30)
	for _, part := range splitTextUTF8(text, maxTextPayloadBytes) {
		if len(part) > maxTextPayloadBytes {
			t.Fatalf("part %d bytes, exceeds limit", len(part))
		}
		if !utf8.ValidString(part) {
			t.Fatalf("part %q is not valid UTF-8", part)
		}
	}
}

func TestSplitTextUTF8ShortPassThrough(t *testing.T) {
	parts := splitTextUTF8("short", maxTextPayloadBytes)
	if len(parts) != 1 || parts[0] != "short" {
		t.Fatalf("parts = %v", parts)
	}
}
