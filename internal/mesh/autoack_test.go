package mesh

import (
	"context"
	"strings"
	"testing"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

func inboundText(t *testing.T, env *testEnv, from, to uint32, channel int, text string) (*generated.MeshPacket, domain.Message) {
	t.Helper()
	pkt := &generated.MeshPacket{
		From:     from,
		To:       to,
		Id:       9001,
		HopStart: 3,
		HopLimit: 1,
	}
	storedChannel := channel
	if to != domain.BroadcastNodeNum {
		storedChannel = domain.DMChannel
	}
	msg := domain.Message{
		ID:        domain.MessageID(from, pkt.Id),
		Kind:      domain.MessageKindText,
		Direction: domain.MessageDirectionIn,
		FromNum:   from,
		ToNum:     to,
		Channel:   storedChannel,
		Text:      text,
		HopStart:  3,
		HopLimit:  1,
		RxTime:    env.clk.Now(),
		CreatedAt: env.clk.Now(),
	}

	return pkt, msg
}

func setSettings(t *testing.T, env *testEnv, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		if err := env.store.settings.Set(context.Background(), k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
}

func TestAutoAckDisabledByDefault(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)

	pkt, msg := inboundText(t, env, targetNum, domain.BroadcastNodeNum, 0, "ping")
	env.manager.autoAck.Consider(context.Background(), pkt, msg)

	if got := len(env.store.messages.outbound()); got != 0 {
		t.Fatalf("outbound messages = %d, want 0", got)
	}
}

func TestAutoAckRepliesOnAllowedChannel(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)
	setSettings(t, env, map[string]string{
		SettingAutoAckEnabled:  "true",
		SettingAutoAckRegex:    "(?i)^ping",
		SettingAutoAckChannels: "0,2",
		SettingAutoAckMessage:  "heard you {NODE_ID} after {NUMBER_HOPS} hops",
	})

	pkt, msg := inboundText(t, env, targetNum, domain.BroadcastNodeNum, 0, "Ping from the hill")
	env.manager.autoAck.Consider(context.Background(), pkt, msg)

	out := env.store.messages.outbound()
	if len(out) != 1 {
		t.Fatalf("outbound messages = %d, want 1", len(out))
	}
	if !strings.Contains(out[0].Text, "!0b0b0b0b") {
		t.Fatalf("reply text = %q, node id token not expanded", out[0].Text)
	}
	if !strings.Contains(out[0].Text, "after 2 hops") {
		t.Fatalf("reply text = %q, hop token not expanded", out[0].Text)
	}
	if out[0].ToNum != domain.BroadcastNodeNum || out[0].Channel != 0 {
		t.Fatalf("reply went to %v channel %d, want broadcast on 0", out[0].ToNum, out[0].Channel)
	}
	if out[0].ReplyID != pkt.GetId() {
		t.Fatalf("reply id = %d, want %d so the ack threads under the trigger", out[0].ReplyID, pkt.GetId())
	}
}

func TestAutoAckIgnoresUnlistedChannel(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)
	setSettings(t, env, map[string]string{
		SettingAutoAckEnabled:  "true",
		SettingAutoAckRegex:    "ping",
		SettingAutoAckChannels: "2",
	})

	pkt, msg := inboundText(t, env, targetNum, domain.BroadcastNodeNum, 0, "ping")
	env.manager.autoAck.Consider(context.Background(), pkt, msg)

	if got := len(env.store.messages.outbound()); got != 0 {
		t.Fatalf("outbound messages = %d, want 0", got)
	}
}

func TestAutoAckNonMatchingTextIgnored(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)
	setSettings(t, env, map[string]string{
		SettingAutoAckEnabled:  "true",
		SettingAutoAckRegex:    "^ping$",
		SettingAutoAckChannels: "0",
	})

	pkt, msg := inboundText(t, env, targetNum, domain.BroadcastNodeNum, 0, "hello there")
	env.manager.autoAck.Consider(context.Background(), pkt, msg)

	if got := len(env.store.messages.outbound()); got != 0 {
		t.Fatalf("outbound messages = %d, want 0", got)
	}
}

func TestAutoAckDirectMessageGate(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)
	setSettings(t, env, map[string]string{
		SettingAutoAckEnabled: "true",
		SettingAutoAckRegex:   "ping",
	})

	pkt, msg := inboundText(t, env, targetNum, localNum, 0, "ping")
	env.manager.autoAck.Consider(context.Background(), pkt, msg)
	if got := len(env.store.messages.outbound()); got != 0 {
		t.Fatalf("DM acked with gate off: %d outbound", got)
	}

	setSettings(t, env, map[string]string{SettingAutoAckDirectMessages: "true"})
	env.manager.autoAck.Consider(context.Background(), pkt, msg)

	out := env.store.messages.outbound()
	if len(out) != 1 {
		t.Fatalf("outbound messages = %d, want 1", len(out))
	}
	if out[0].ToNum != targetNum || out[0].Channel != domain.DMChannel {
		t.Fatalf("DM reply addressed to %v channel %d", out[0].ToNum, out[0].Channel)
	}
	if out[0].ReplyID != 0 {
		t.Fatalf("DM reply id = %d, want none", out[0].ReplyID)
	}
}

func TestAutoAckNeverAnswersLocalNode(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)
	setSettings(t, env, map[string]string{
		SettingAutoAckEnabled:  "true",
		SettingAutoAckRegex:    "ping",
		SettingAutoAckChannels: "0",
	})

	pkt, msg := inboundText(t, env, localNum, domain.BroadcastNodeNum, 0, "ping")
	env.manager.autoAck.Consider(context.Background(), pkt, msg)

	if got := len(env.store.messages.outbound()); got != 0 {
		t.Fatalf("replied to own message: %d outbound", got)
	}
}

func TestAutoAckInvalidPatternDisablesMatching(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)
	setSettings(t, env, map[string]string{
		SettingAutoAckEnabled:  "true",
		SettingAutoAckRegex:    "(",
		SettingAutoAckChannels: "0",
	})

	pkt, msg := inboundText(t, env, targetNum, domain.BroadcastNodeNum, 0, "ping")
	env.manager.autoAck.Consider(context.Background(), pkt, msg)

	if got := len(env.store.messages.outbound()); got != 0 {
		t.Fatalf("invalid pattern still matched: %d outbound", got)
	}
}
