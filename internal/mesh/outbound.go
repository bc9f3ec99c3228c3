package mesh

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/meshkeeper/meshkeeper/internal/domain"
	"github.com/meshkeeper/meshkeeper/internal/events"
	"github.com/meshkeeper/meshkeeper/internal/radio"
)

// maxTextPayloadBytes is the largest text payload the firmware accepts
// in one packet. Longer messages are split on rune boundaries.
const maxTextPayloadBytes = 200

// SendText transmits a text message to a channel or directly to a node,
// splitting oversized text into multiple packets. A non-zero replyID
// marks the message as a reply to that packet id; emoji marks it as a
// tapback reaction. Every sent packet is persisted as a pending
// outbound message; the returned ids identify those rows.
func (m *Manager) SendText(ctx context.Context, to uint32, channel uint32, text string, replyID uint32, emoji bool) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message text is empty")
	}
	if !m.Connected() {
		return nil, ErrNotConnected
	}
	local, ok := m.Local()
	if !ok {
		return nil, ErrNoLocalNode
	}

	ids := make([]string, 0, 1)
	for _, part := range splitTextUTF8(text, maxTextPayloadBytes) {
		id, err := m.sendTextPacket(ctx, local.Num, to, channel, part, replyID, emoji)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func (m *Manager) sendTextPacket(ctx context.Context, fromNum, to, channel uint32, text string, replyID uint32, emoji bool) (string, error) {
	encoded, err := m.codec.EncodeText(radio.TextRequest{
		To:      to,
		Channel: channel,
		Text:    text,
		ReplyID: replyID,
		Emoji:   emoji,
	})
	if err != nil {
		return "", fmt.Errorf("encode text packet: %w", err)
	}
	if err := m.session.Send(ctx, encoded.Payload); err != nil {
		return "", fmt.Errorf("send text packet: %w", err)
	}

	now := m.now()
	storedChannel := int(channel)
	if to != domain.BroadcastNodeNum {
		storedChannel = domain.DMChannel
	}
	msg := domain.Message{
		ID:            domain.MessageID(fromNum, encoded.RequestID),
		Kind:          domain.MessageKindText,
		Direction:     domain.MessageDirectionOut,
		FromNum:       fromNum,
		ToNum:         to,
		Channel:       storedChannel,
		Text:          text,
		RequestID:     encoded.RequestID,
		ReplyID:       replyID,
		Emoji:         emoji,
		WantAck:       encoded.WantAck,
		DeliveryState: domain.DeliveryPending,
		Read:          true,
		RxTime:        now,
		CreatedAt:     now,
	}
	if err := m.store.Messages.Insert(ctx, msg); err != nil {
		m.logger.Warn("outbound message insert failed", "id", msg.ID, "error", err)
	}

	m.logger.Info("text sent", "to", domain.FormatNodeNum(to),
		"channel", storedChannel, "request_id", encoded.RequestID)
	m.publish(events.TopicMessageStatus, events.DeliveryUpdate{
		MessageID: msg.ID,
		RequestID: msg.RequestID,
		State:     domain.DeliveryPending,
	})

	return msg.ID, nil
}

// SendTraceroute issues a traceroute probe and stamps the target's
// probe bookkeeping so the scheduler rotates fairly.
func (m *Manager) SendTraceroute(ctx context.Context, to uint32, channel uint32) error {
	if !m.Connected() {
		return ErrNotConnected
	}
	encoded, err := m.codec.EncodeTraceroute(to, channel)
	if err != nil {
		return fmt.Errorf("encode traceroute: %w", err)
	}
	if err := m.session.Send(ctx, encoded.Payload); err != nil {
		return fmt.Errorf("send traceroute: %w", err)
	}
	if err := m.store.Nodes.RecordTracerouteRequest(ctx, to, m.now()); err != nil {
		m.logger.Warn("traceroute bookkeeping failed", "error", err)
	}
	m.logger.Info("traceroute requested", "to", domain.FormatNodeNum(to), "channel", channel)

	return nil
}

// SendRaw forwards a pre-framed ToRadio payload unchanged. Used by the
// virtual-node server to relay client traffic.
func (m *Manager) SendRaw(ctx context.Context, payload []byte) error {
	if !m.Connected() {
		return ErrNotConnected
	}

	return m.session.Send(ctx, payload)
}

// splitTextUTF8 breaks text into chunks of at most maxBytes, never
// splitting a rune and preferring word boundaries when one exists in
// the tail of the chunk.
func splitTextUTF8(text string, maxBytes int) []string {
	if len(text) <= maxBytes {
		return []string{text}
	}

	var parts []string
	for len(text) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if idx := strings.LastIndexByte(text[:cut], ' '); idx > maxBytes/2 {
			cut = idx
		}
		parts = append(parts, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		parts = append(parts, text)
	}

	return parts
}
