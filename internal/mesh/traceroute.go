package mesh

import (
	"context"
	"fmt"
	"strings"
	"time"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
	"github.com/meshkeeper/meshkeeper/internal/events"
)

// snrUnknown is the RouteDiscovery sentinel for a hop without a
// measured SNR. Values are transported as dB times four.
const snrUnknown = -128

// handleTraceroute stores a completed port-70 traceroute response:
// route record, per-segment distances, estimated positions for GPS-less
// intermediates, and a rendered summary kept as a message row.
func (m *Manager) handleTraceroute(ctx context.Context, pkt *generated.MeshPacket, payload []byte) {
	var discovery generated.RouteDiscovery
	if err := protoUnmarshal(payload, &discovery); err != nil {
		m.logger.Warn("decode route discovery failed", "error", err)

		return
	}
	now := m.now()

	// The response travels target -> us, so the packet sender is the
	// traceroute target and the destination is the original requester.
	targetNum := pkt.GetFrom()
	requesterNum := pkt.GetTo()

	record := domain.Traceroute{
		FromNum:    requesterNum,
		ToNum:      targetNum,
		PacketID:   pkt.GetId(),
		RequestID:  pkt.GetDecoded().GetRequestId(),
		Route:      discovery.GetRoute(),
		SNRTowards: decodeSNRList(discovery.GetSnrTowards()),
		RouteBack:  discovery.GetRouteBack(),
		SNRBack:    decodeSNRList(discovery.GetSnrBack()),
		IsComplete: true,
		CreatedAt:  now,
	}

	recordID, err := m.store.Traceroutes.Insert(ctx, record)
	if err != nil {
		m.logger.Warn("traceroute insert failed", "error", err)

		return
	}
	record.ID = recordID

	// Both paths are anchored on the packet sender: the forward list
	// walks responder -> requester, the back list walks the reverse.
	forward := routePath(targetNum, discovery.GetRoute(), requesterNum)
	back := routePath(requesterNum, discovery.GetRouteBack(), targetNum)
	m.storeRouteSegments(ctx, recordID, forward, record.SNRTowards, now)
	// The trivial two-node back path carries no information of its own.
	if len(discovery.GetRouteBack()) > 0 || len(discovery.GetSnrBack()) > 0 {
		m.storeRouteSegments(ctx, recordID, back, record.SNRBack, now)
	}
	m.estimateIntermediatePositions(ctx, forward, now)

	summary := m.renderTraceroute(ctx, record, forward, back)
	targetID := domain.FormatNodeNum(targetNum)

	msg := domain.Message{
		ID:        domain.MessageID(targetNum, pkt.GetId()),
		Kind:      domain.MessageKindTraceroute,
		Direction: domain.MessageDirectionIn,
		FromNum:   targetNum,
		ToNum:     requesterNum,
		Channel:   domain.DMChannel,
		Text:      summary,
		RxTime:    now,
		CreatedAt: now,
	}
	if err := m.store.Messages.Insert(ctx, msg); err != nil {
		m.logger.Warn("traceroute message insert failed", "error", err)
	}

	m.publish(events.TopicTracerouteResult, events.TracerouteResult{
		Record:       record,
		TargetNodeID: targetID,
		Summary:      summary,
	})
	m.notify(ctx, "Traceroute "+m.senderDisplayName(ctx, targetNum), summary)
}

// routePath expands the on-wire hop list into the full node sequence
// including both endpoints.
func routePath(from uint32, hops []uint32, to uint32) []uint32 {
	path := make([]uint32, 0, len(hops)+2)
	path = append(path, from)
	path = append(path, hops...)
	path = append(path, to)

	return path
}

// decodeSNRList converts the wire encoding (dB times four, -128 for
// unknown) into dB values with nil gaps preserved as NaN-free zeros.
func decodeSNRList(raw []int32) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		if v == snrUnknown {
			out[i] = 0
			continue
		}
		out[i] = float64(v) / 4
	}

	return out
}

// storeRouteSegments persists each hop of a path, attaching haversine
// distances where both endpoints have a stored position, and promotes a
// new longest-segment record holder.
func (m *Manager) storeRouteSegments(ctx context.Context, recordID int64, path []uint32, snrs []float64, now time.Time) {
	recordKm, err := m.store.Traceroutes.RecordDistanceKm(ctx)
	if err != nil {
		m.logger.Debug("record distance lookup failed", "error", err)
	}

	for i := 0; i+1 < len(path); i++ {
		seg := domain.RouteSegment{
			TracerouteID: recordID,
			FromNum:      path[i],
			ToNum:        path[i+1],
			CreatedAt:    now,
		}
		if i < len(snrs) && snrs[i] != 0 {
			seg.SNR = float64Ptr(snrs[i])
		}
		if km, ok := m.segmentDistanceKm(ctx, path[i], path[i+1]); ok {
			seg.DistanceKm = &km
		}

		segID, err := m.store.Traceroutes.InsertSegment(ctx, seg)
		if err != nil {
			m.logger.Debug("segment insert failed", "error", err)
			continue
		}
		if seg.DistanceKm != nil && *seg.DistanceKm > recordKm {
			recordKm = *seg.DistanceKm
			if err := m.store.Traceroutes.SetRecordHolder(ctx, segID); err != nil {
				m.logger.Debug("record holder update failed", "error", err)
			} else {
				m.logger.Info("new longest link",
					"from", domain.FormatNodeNum(seg.FromNum),
					"to", domain.FormatNodeNum(seg.ToNum),
					"distance_km", fmt.Sprintf("%.1f", recordKm))
			}
		}
	}
}

func (m *Manager) segmentDistanceKm(ctx context.Context, a, b uint32) (float64, bool) {
	na, okA, errA := m.store.Nodes.Get(ctx, a)
	nb, okB, errB := m.store.Nodes.Get(ctx, b)
	if errA != nil || errB != nil || !okA || !okB {
		return 0, false
	}
	if na.Latitude == nil || na.Longitude == nil || nb.Latitude == nil || nb.Longitude == nil {
		return 0, false
	}

	return haversineKm(*na.Latitude, *na.Longitude, *nb.Latitude, *nb.Longitude), true
}

// estimateIntermediatePositions derives a rough position for GPS-less
// hops sitting between two positioned neighbors, stored as estimation
// telemetry rather than on the node row.
func (m *Manager) estimateIntermediatePositions(ctx context.Context, path []uint32, now time.Time) {
	for i := 1; i+1 < len(path); i++ {
		node, ok, err := m.store.Nodes.Get(ctx, path[i])
		if err != nil || !ok {
			continue
		}
		if node.Latitude != nil && node.Longitude != nil {
			continue
		}
		prev, okP, errP := m.store.Nodes.Get(ctx, path[i-1])
		next, okN, errN := m.store.Nodes.Get(ctx, path[i+1])
		if errP != nil || errN != nil || !okP || !okN {
			continue
		}
		if prev.Latitude == nil || prev.Longitude == nil || next.Latitude == nil || next.Longitude == nil {
			continue
		}
		lat, lon := midpoint(*prev.Latitude, *prev.Longitude, *next.Latitude, *next.Longitude)
		m.insertTelemetry(ctx, node.Num, domain.TelemetryEstLatitude, lat, now)
		m.insertTelemetry(ctx, node.Num, domain.TelemetryEstLongitude, lon, now)
	}
}

// renderTraceroute builds the human-readable multi-line summary with
// node names, per-hop SNR, and distances in the configured unit.
func (m *Manager) renderTraceroute(ctx context.Context, record domain.Traceroute, forward, back []uint32) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Traceroute to %s", m.senderDisplayName(ctx, record.ToNum))

	b.WriteString("\nTowards: ")
	b.WriteString(m.renderPath(ctx, forward, record.SNRTowards))
	if len(back) > 2 || len(record.SNRBack) > 0 {
		b.WriteString("\nBack: ")
		b.WriteString(m.renderPath(ctx, back, record.SNRBack))
	}

	return b.String()
}

func (m *Manager) renderPath(ctx context.Context, path []uint32, snrs []float64) string {
	unit := m.settings.DistanceUnit(ctx)

	var b strings.Builder
	for i, num := range path {
		if i > 0 {
			b.WriteString(" → ")
		}
		b.WriteString(m.senderDisplayName(ctx, num))
		if i+1 < len(path) {
			var hop []string
			if i < len(snrs) && snrs[i] != 0 {
				hop = append(hop, fmt.Sprintf("%.2fdB", snrs[i]))
			}
			if km, ok := m.segmentDistanceKm(ctx, path[i], path[i+1]); ok {
				hop = append(hop, formatDistance(km, unit))
			}
			if len(hop) > 0 {
				b.WriteString(" [" + strings.Join(hop, ", ") + "]")
			}
		}
	}

	return b.String()
}

func formatDistance(km float64, unit string) string {
	if unit == "mi" {
		return fmt.Sprintf("%.1fmi", kmToMiles(km))
	}

	return fmt.Sprintf("%.1fkm", km)
}
