package mesh

import (
	"context"
	"fmt"
	"unicode/utf8"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

// handleMeshPacket routes one over-the-air packet by port number.
func (m *Manager) handleMeshPacket(ctx context.Context, pkt *generated.MeshPacket) {
	m.ensureNodeForPacket(ctx, pkt)
	m.logPacket(ctx, pkt)

	decoded := pkt.GetDecoded()
	if decoded == nil {
		// Channel-encrypted payload we cannot read; the packet log and
		// transmission metrics above are all we keep.
		return
	}

	payload := decoded.GetPayload()
	switch decoded.GetPortnum() {
	case generated.PortNum_TEXT_MESSAGE_APP:
		m.handleText(ctx, pkt, decoded)
	case generated.PortNum_POSITION_APP:
		m.handlePosition(ctx, pkt, payload)
	case generated.PortNum_NODEINFO_APP:
		m.handleNodeInfoPacket(ctx, pkt, payload)
	case generated.PortNum_ROUTING_APP:
		m.handleRouting(ctx, pkt, decoded)
	case generated.PortNum_ADMIN_APP:
		m.handleAdminPacket(ctx, pkt, payload)
	case generated.PortNum_TELEMETRY_APP:
		m.handleTelemetry(ctx, pkt, payload)
	case generated.PortNum_TRACEROUTE_APP:
		m.handleTraceroute(ctx, pkt, payload)
	case generated.PortNum_NEIGHBORINFO_APP:
		m.handleNeighborInfo(ctx, pkt, payload)
	default:
		m.logger.Debug("unhandled port", "port", decoded.GetPortnum().String(),
			"from", domain.FormatNodeNum(pkt.GetFrom()))
	}
}

// ensureNodeForPacket guarantees a node row for the packet sender. An
// existing row only gets its transmission metrics refreshed; names and
// the rest stay untouched until a real NodeInfo arrives.
func (m *Manager) ensureNodeForPacket(ctx context.Context, pkt *generated.MeshPacket) {
	fromNum := pkt.GetFrom()
	if fromNum == 0 || fromNum == domain.BroadcastNodeNum {
		return
	}
	now := m.now()

	node, exists, err := m.store.Nodes.Get(ctx, fromNum)
	if err != nil {
		m.logger.Warn("node lookup failed", "from", domain.FormatNodeNum(fromNum), "error", err)

		return
	}
	if !exists {
		node = domain.Node{
			Num:          fromNum,
			NodeID:       domain.FormatNodeNum(fromNum),
			LongName:     domain.PlaceholderLongName(fromNum),
			FirstHeardAt: now,
		}
	}

	if snr := pkt.GetRxSnr(); snr != 0 {
		node.SNR = float64Ptr(float64(snr))
	}
	if rssi := pkt.GetRxRssi(); rssi != 0 {
		v := int(rssi)
		node.RSSI = &v
	}
	if pkt.GetPkiEncrypted() {
		node.PKIEncrypted = true
	}
	node.ViaMQTT = pkt.GetViaMqtt()
	node.LastHeardAt = now
	node.UpdatedAt = now

	if err := m.store.Nodes.Upsert(ctx, node); err != nil {
		m.logger.Warn("node upsert failed", "from", node.NodeID, "error", err)
	}
}

// handleNodeInfoPacket decodes a port-4 User payload into the shared
// NodeInfo path.
func (m *Manager) handleNodeInfoPacket(ctx context.Context, pkt *generated.MeshPacket, payload []byte) {
	var user generated.User
	if err := protoUnmarshal(payload, &user); err != nil {
		m.logger.Warn("decode user payload failed", "error", err)

		return
	}

	u := nodeInfoUpdate{
		Num:          pkt.GetFrom(),
		LongName:     user.GetLongName(),
		ShortName:    user.GetShortName(),
		HwModel:      user.GetHwModel().String(),
		Role:         user.GetRole().String(),
		IsLicensed:   user.GetIsLicensed(),
		PublicKey:    user.GetPublicKey(),
		ViaMQTT:      pkt.GetViaMqtt(),
		PKIEncrypted: pkt.GetPkiEncrypted(),
		HasPKI:       true,
	}
	if snr := pkt.GetRxSnr(); snr != 0 {
		u.SNR = float64Ptr(float64(snr))
	}
	if rssi := pkt.GetRxRssi(); rssi != 0 {
		v := int(rssi)
		u.RSSI = &v
	}
	m.handleNodeInfoUpdate(ctx, u)
}

// logPacket records every observed packet with a payload preview when
// packet logging is enabled.
func (m *Manager) logPacket(ctx context.Context, pkt *generated.MeshPacket) {
	if m.store.PacketLog == nil {
		return
	}

	entry := domain.PacketLogEntry{
		FromNum:  pkt.GetFrom(),
		ToNum:    pkt.GetTo(),
		Channel:  pkt.GetChannel(),
		PacketID: pkt.GetId(),
		HopStart: pkt.GetHopStart(),
		HopLimit: pkt.GetHopLimit(),
		ViaMQTT:  pkt.GetViaMqtt(),
		At:       m.now(),
	}
	if snr := pkt.GetRxSnr(); snr != 0 {
		entry.SNR = float64Ptr(float64(snr))
	}
	if rssi := pkt.GetRxRssi(); rssi != 0 {
		v := int(rssi)
		entry.RSSI = &v
	}
	if decoded := pkt.GetDecoded(); decoded != nil {
		entry.PortNum = decoded.GetPortnum().String()
		entry.RequestID = decoded.GetRequestId()
		entry.PayloadPreview = payloadPreview(decoded)
	} else {
		entry.PortNum = "ENCRYPTED"
	}

	if err := m.store.PacketLog.Insert(ctx, entry); err != nil {
		m.logger.Debug("packet log insert failed", "error", err)
	}
}

// payloadPreview synthesizes a short human-readable summary from the
// port type for the packet log.
func payloadPreview(decoded *generated.Data) string {
	payload := decoded.GetPayload()
	switch decoded.GetPortnum() {
	case generated.PortNum_TEXT_MESSAGE_APP:
		return truncateUTF8(string(payload), 64)
	case generated.PortNum_POSITION_APP:
		var pos generated.Position
		if err := protoUnmarshal(payload, &pos); err == nil {
			return fmt.Sprintf("pos %.5f,%.5f", float64(pos.GetLatitudeI())*coordScale, float64(pos.GetLongitudeI())*coordScale)
		}
	case generated.PortNum_NODEINFO_APP:
		var user generated.User
		if err := protoUnmarshal(payload, &user); err == nil {
			return truncateUTF8(user.GetLongName(), 64)
		}
	case generated.PortNum_ROUTING_APP:
		var routing generated.Routing
		if err := protoUnmarshal(payload, &routing); err == nil {
			return "routing " + routing.GetErrorReason().String()
		}
	case generated.PortNum_TELEMETRY_APP:
		return "telemetry"
	case generated.PortNum_TRACEROUTE_APP:
		return "traceroute"
	case generated.PortNum_NEIGHBORINFO_APP:
		return "neighborinfo"
	case generated.PortNum_ADMIN_APP:
		return "admin"
	}

	return fmt.Sprintf("%d bytes", len(payload))
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}

	return s[:max]
}
