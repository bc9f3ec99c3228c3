package mesh

import (
	"context"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
	"github.com/meshkeeper/meshkeeper/internal/events"
)

// handleText stores one inbound port-1 text message and dispatches it
// to notifications and the auto-acknowledge engine.
func (m *Manager) handleText(ctx context.Context, pkt *generated.MeshPacket, decoded *generated.Data) {
	now := m.now()
	fromNum := pkt.GetFrom()
	toNum := pkt.GetTo()
	text := string(decoded.GetPayload())

	isDM := toNum != domain.BroadcastNodeNum
	channel := int(pkt.GetChannel())
	if isDM {
		channel = domain.DMChannel
		m.ensureNodeExists(ctx, toNum)
	} else {
		m.ensureBroadcastNode(ctx)
	}

	msg := domain.Message{
		ID:        domain.MessageID(fromNum, pkt.GetId()),
		Kind:      domain.MessageKindText,
		Direction: domain.MessageDirectionIn,
		FromNum:   fromNum,
		ToNum:     toNum,
		Channel:   channel,
		Text:      text,
		HopStart:  pkt.GetHopStart(),
		HopLimit:  pkt.GetHopLimit(),
		ViaMQTT:   pkt.GetViaMqtt(),
		RxTime:    now,
		CreatedAt: now,
	}
	if replyID := decoded.GetReplyId(); replyID > 0 {
		msg.ReplyID = replyID
	}
	if decoded.GetEmoji() > 0 {
		msg.Emoji = true
	}
	if snr := pkt.GetRxSnr(); snr != 0 {
		msg.SNR = float64Ptr(float64(snr))
	}
	if rssi := pkt.GetRxRssi(); rssi != 0 {
		v := int(rssi)
		msg.RSSI = &v
	}

	if err := m.store.Messages.Insert(ctx, msg); err != nil {
		m.logger.Warn("message insert failed", "id", msg.ID, "error", err)
	}

	senderName := m.senderDisplayName(ctx, fromNum)
	m.publish(events.TopicMessageIn, events.InboundMessage{
		Message:    msg,
		SenderName: senderName,
		ChatKey:    domain.ChatKeyForMessage(msg),
	})
	m.notify(ctx, senderName, text)

	m.autoAck.Consider(ctx, pkt, msg)
}

func (m *Manager) senderDisplayName(ctx context.Context, num uint32) string {
	node, ok, err := m.store.Nodes.Get(ctx, num)
	if err != nil || !ok {
		return domain.FormatNodeNum(num)
	}

	return domain.NodeDisplayName(node)
}

func (m *Manager) ensureNodeExists(ctx context.Context, num uint32) {
	if num == 0 || num == domain.BroadcastNodeNum {
		return
	}
	if _, ok, err := m.store.Nodes.Get(ctx, num); err != nil || ok {
		return
	}
	now := m.now()
	node := domain.Node{
		Num:          num,
		NodeID:       domain.FormatNodeNum(num),
		LongName:     domain.PlaceholderLongName(num),
		FirstHeardAt: now,
		LastHeardAt:  now,
		UpdatedAt:    now,
	}
	if err := m.store.Nodes.Upsert(ctx, node); err != nil {
		m.logger.Debug("placeholder node upsert failed", "node_id", node.NodeID, "error", err)
	}
}

func (m *Manager) ensureBroadcastNode(ctx context.Context) {
	if _, ok, err := m.store.Nodes.Get(ctx, domain.BroadcastNodeNum); err != nil || ok {
		return
	}
	now := m.now()
	node := domain.Node{
		Num:          domain.BroadcastNodeNum,
		NodeID:       domain.FormatNodeNum(domain.BroadcastNodeNum),
		LongName:     "Broadcast",
		ShortName:    "ALL",
		FirstHeardAt: now,
		LastHeardAt:  now,
		UpdatedAt:    now,
	}
	if err := m.store.Nodes.Upsert(ctx, node); err != nil {
		m.logger.Debug("broadcast node upsert failed", "error", err)
	}
}
