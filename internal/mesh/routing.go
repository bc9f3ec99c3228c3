package mesh

import (
	"context"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
	"github.com/meshkeeper/meshkeeper/internal/events"
)

// handleRouting advances the delivery state machine from a port-5
// routing response. The response correlates to our outbound packet via
// the request id; a zero error reason is an ACK, anything else a NAK.
func (m *Manager) handleRouting(ctx context.Context, pkt *generated.MeshPacket, decoded *generated.Data) {
	requestID := decoded.GetRequestId()
	if requestID == 0 {
		return
	}

	var routing generated.Routing
	if err := protoUnmarshal(decoded.GetPayload(), &routing); err != nil {
		m.logger.Warn("decode routing payload failed", "error", err)

		return
	}

	msg, ok, err := m.store.Messages.GetByRequestID(ctx, requestID)
	if err != nil {
		m.logger.Warn("message lookup by request id failed", "request_id", requestID, "error", err)

		return
	}
	if !ok {
		// Routing traffic for somebody else's packet.
		return
	}
	if msg.DeliveryState.Terminal() {
		return
	}

	reason := routing.GetErrorReason()
	if reason != generated.Routing_NONE {
		// Failure only downgrades an undelivered message; a late NAK
		// after an ACK is noise.
		if msg.DeliveryState != domain.DeliveryPending {
			return
		}
		m.setDeliveryState(ctx, msg, domain.DeliveryFailed, reason.String())

		return
	}

	ackFrom := pkt.GetFrom()
	switch {
	case ackFrom == m.state.LocalNum():
		// Our own radio confirming the packet left the queue.
		if msg.DeliveryState == domain.DeliveryPending {
			m.setDeliveryState(ctx, msg, domain.DeliveryDelivered, "")
		}
	case msg.Channel == domain.DMChannel && ackFrom == msg.ToNum:
		// The DM target itself acknowledged: end of the line.
		m.setDeliveryState(ctx, msg, domain.DeliveryConfirmed, "")
	default:
		// An intermediate node repeated the ACK; it proves nothing
		// about the destination.
		m.logger.Debug("ignoring third-party ack",
			"request_id", requestID, "from", domain.FormatNodeNum(ackFrom))
	}
}

func (m *Manager) setDeliveryState(ctx context.Context, msg domain.Message, state domain.DeliveryState, reason string) {
	if err := m.store.Messages.UpdateDeliveryState(ctx, msg.ID, state, reason); err != nil {
		m.logger.Warn("delivery state update failed", "id", msg.ID, "error", err)

		return
	}
	m.logger.Info("delivery state changed",
		"id", msg.ID, "state", state.String(), "reason", reason)

	m.publish(events.TopicMessageStatus, events.DeliveryUpdate{
		MessageID: msg.ID,
		RequestID: msg.RequestID,
		State:     state,
		Reason:    reason,
	})
}
