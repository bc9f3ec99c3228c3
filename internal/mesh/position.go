package mesh

import (
	"context"
	"time"

	generated "github.com/rabarar/meshtastic"
	"google.golang.org/protobuf/proto"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

const (
	// positionStaleAfter is the age at which any precision is accepted
	// over the stored fix.
	positionStaleAfter = 12 * time.Hour
	// mobilityThresholdKm marks a node mobile once it moves this far
	// between accepted fixes.
	mobilityThresholdKm = 0.5
	coordScale          = 1e-7
)

// handlePosition processes a port-3 POSITION packet.
func (m *Manager) handlePosition(ctx context.Context, pkt *generated.MeshPacket, payload []byte) {
	var pos generated.Position
	if err := proto.Unmarshal(payload, &pos); err != nil {
		m.logger.Warn("decode position payload failed", "error", err)

		return
	}

	now := m.now()
	fromNum := pkt.GetFrom()
	node, exists, err := m.store.Nodes.Get(ctx, fromNum)
	if err != nil || !exists {
		// ensureNodeForPacket ran before dispatch; a miss here means the
		// write failed, so skip rather than invent a row.
		if err != nil {
			m.logger.Warn("node lookup for position failed", "error", err)
		}

		return
	}

	moved := m.applyPositionToNode(ctx, &node, &pos, now)
	node.UpdatedAt = now
	if err := m.store.Nodes.Upsert(ctx, node); err != nil {
		m.logger.Warn("position upsert failed", "node_id", node.NodeID, "error", err)

		return
	}
	if moved {
		if err := m.store.Nodes.UpdateMobility(ctx, node.Num, true); err != nil {
			m.logger.Debug("mobility update failed", "error", err)
		}
	}
}

// applyPositionToNode validates and applies one position report under
// the smart precision policy. Returns whether the node moved beyond the
// mobility threshold. The caller persists the row.
func (m *Manager) applyPositionToNode(ctx context.Context, node *domain.Node, pos *generated.Position, now time.Time) bool {
	lat := float64(pos.GetLatitudeI()) * coordScale
	lon := float64(pos.GetLongitudeI()) * coordScale
	if !validCoordinates(lat, lon) {
		return false
	}
	precision := pos.GetPrecisionBits()

	if !acceptPosition(node, precision, now) {
		return false
	}

	moved := false
	if node.Latitude != nil && node.Longitude != nil {
		if haversineKm(*node.Latitude, *node.Longitude, lat, lon) >= mobilityThresholdKm {
			moved = true
		}
	}

	node.Latitude = &lat
	node.Longitude = &lon
	if pos.Altitude != nil {
		alt := pos.GetAltitude()
		node.Altitude = &alt
	}
	if precision > 0 {
		node.PositionPrecision = uint32Ptr(precision)
	}
	node.PositionTime = &now

	m.insertTelemetry(ctx, node.Num, domain.TelemetryLatitude, lat, now)
	m.insertTelemetry(ctx, node.Num, domain.TelemetryLongitude, lon, now)
	if pos.Altitude != nil {
		m.insertTelemetry(ctx, node.Num, domain.TelemetryAltitude, float64(pos.GetAltitude()), now)
	}

	return moved
}

// acceptPosition implements the smart precision policy: take new data
// iff there is no stored fix, the new fix is at least as precise, or
// the stored fix has gone stale.
func acceptPosition(node *domain.Node, newPrecision uint32, now time.Time) bool {
	if node.Latitude == nil || node.Longitude == nil {
		return true
	}
	if node.PositionPrecision == nil || newPrecision >= *node.PositionPrecision {
		return true
	}
	if node.PositionTime == nil || now.Sub(*node.PositionTime) > positionStaleAfter {
		return true
	}

	return false
}

func (m *Manager) insertTelemetry(ctx context.Context, nodeNum uint32, t domain.TelemetryType, value float64, at time.Time) {
	sample := domain.TelemetrySample{NodeNum: nodeNum, Type: t, Value: value, At: at}
	if err := m.store.Telemetry.Insert(ctx, sample); err != nil {
		m.logger.Debug("telemetry insert failed", "type", t, "error", err)
	}
}
