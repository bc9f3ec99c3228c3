package mesh

import (
	"context"
	"testing"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

func textPacket(from, to uint32, channel uint32, text string) *generated.MeshPacket {
	return &generated.MeshPacket{
		From:     from,
		To:       to,
		Channel:  channel,
		Id:       7001,
		HopStart: 3,
		HopLimit: 3,
		PayloadVariant: &generated.MeshPacket_Decoded{Decoded: &generated.Data{
			Portnum: generated.PortNum_TEXT_MESSAGE_APP,
			Payload: []byte(text),
		}},
	}
}

func TestInboundChannelTextStored(t *testing.T) {
	env := newTestEnv(t, false)
	seedLocalNode(env, localNum)
	ctx := context.Background()

	pkt := textPacket(targetNum, domain.BroadcastNodeNum, 2, "hello mesh")
	env.manager.handleMeshPacket(ctx, pkt)

	msg, ok := env.store.messages.get(domain.MessageID(targetNum, 7001))
	if !ok {
		t.Fatal("message row missing")
	}
	if msg.Channel != 2 || msg.Text != "hello mesh" {
		t.Fatalf("message = %+v", msg)
	}
	if msg.Direction != domain.MessageDirectionIn {
		t.Fatalf("direction = %v", msg.Direction)
	}

	// Broadcast destination gets its pseudo-node row.
	bcast, ok, _ := env.store.nodes.Get(ctx, domain.BroadcastNodeNum)
	if !ok || bcast.ShortName != "ALL" {
		t.Fatalf("broadcast node = %+v ok=%v", bcast, ok)
	}
}

func TestInboundDMUsesDMChannelMarker(t *testing.T) {
	env := newTestEnv(t, false)
	seedLocalNode(env, localNum)
	ctx := context.Background()

	pkt := textPacket(targetNum, localNum, 0, "psst")
	env.manager.handleMeshPacket(ctx, pkt)

	msg, ok := env.store.messages.get(domain.MessageID(targetNum, 7001))
	if !ok {
		t.Fatal("message row missing")
	}
	if msg.Channel != domain.DMChannel {
		t.Fatalf("channel = %d, want DM marker", msg.Channel)
	}
	if domain.ChatKeyForMessage(msg) != "dm:!0b0b0b0b" {
		t.Fatalf("chat key = %q", domain.ChatKeyForMessage(msg))
	}
}

func TestUnknownSenderGetsPlaceholderRow(t *testing.T) {
	env := newTestEnv(t, false)
	seedLocalNode(env, localNum)
	ctx := context.Background()

	pkt := textPacket(0x0d0d0d0d, domain.BroadcastNodeNum, 0, "first contact")
	env.manager.handleMeshPacket(ctx, pkt)

	node, ok, _ := env.store.nodes.Get(ctx, 0x0d0d0d0d)
	if !ok {
		t.Fatal("placeholder node not created")
	}
	if node.LongName != domain.PlaceholderLongName(0x0d0d0d0d) {
		t.Fatalf("placeholder name = %q", node.LongName)
	}
}

func TestDuplicatePacketStoredOnce(t *testing.T) {
	env := newTestEnv(t, false)
	seedLocalNode(env, localNum)
	ctx := context.Background()

	pkt := textPacket(targetNum, domain.BroadcastNodeNum, 0, "once")
	env.manager.handleMeshPacket(ctx, pkt)
	env.manager.handleMeshPacket(ctx, pkt)

	msgs, _ := env.store.messages.ListRecent(ctx, 10)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1 after duplicate delivery", len(msgs))
	}
}

func TestEncryptedPacketOnlyLogged(t *testing.T) {
	env := newTestEnv(t, false)
	seedLocalNode(env, localNum)
	ctx := context.Background()

	pkt := &generated.MeshPacket{
		From:           targetNum,
		To:             domain.BroadcastNodeNum,
		Id:             7002,
		PayloadVariant: &generated.MeshPacket_Encrypted{Encrypted: []byte{0xde, 0xad}},
	}
	env.manager.handleMeshPacket(ctx, pkt)

	msgs, _ := env.store.messages.ListRecent(ctx, 10)
	if len(msgs) != 0 {
		t.Fatalf("encrypted packet produced %d messages", len(msgs))
	}
	if len(env.store.packetLog.entries) != 1 || env.store.packetLog.entries[0].PortNum != "ENCRYPTED" {
		t.Fatalf("packet log = %+v", env.store.packetLog.entries)
	}
}
