package mesh

import (
	"context"
	"time"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

// handleNeighborInfo replaces the sender's neighbor table from a
// port-71 NeighborInfo broadcast. Neighbors we never heard directly get
// a placeholder node row one hop past the sender.
func (m *Manager) handleNeighborInfo(ctx context.Context, pkt *generated.MeshPacket, payload []byte) {
	var info generated.NeighborInfo
	if err := protoUnmarshal(payload, &info); err != nil {
		m.logger.Warn("decode neighbor info failed", "error", err)

		return
	}
	now := m.now()
	senderNum := info.GetNodeId()
	if senderNum == 0 {
		senderNum = pkt.GetFrom()
	}

	neighbors := make([]domain.Neighbor, 0, len(info.GetNeighbors()))
	for _, n := range info.GetNeighbors() {
		num := n.GetNodeId()
		if num == 0 || num == senderNum {
			continue
		}
		neighbors = append(neighbors, domain.Neighbor{
			NodeNum:     senderNum,
			NeighborNum: num,
			SNR:         float64(n.GetSnr()),
			At:          now,
		})
		m.ensureNeighborNode(ctx, num, pkt, now)
	}

	if err := m.store.Neighbors.ReplaceForNode(ctx, senderNum, neighbors); err != nil {
		m.logger.Warn("neighbor table replace failed",
			"node_id", domain.FormatNodeNum(senderNum), "error", err)

		return
	}
	m.logger.Debug("neighbor table updated",
		"node_id", domain.FormatNodeNum(senderNum), "count", len(neighbors))
}

// ensureNeighborNode creates a placeholder row for a neighbor known
// only by reference, estimated one hop beyond the reporting sender.
func (m *Manager) ensureNeighborNode(ctx context.Context, num uint32, pkt *generated.MeshPacket, now time.Time) {
	if num == domain.BroadcastNodeNum {
		return
	}
	if _, ok, err := m.store.Nodes.Get(ctx, num); err != nil || ok {
		return
	}

	node := domain.Node{
		Num:          num,
		NodeID:       domain.FormatNodeNum(num),
		LongName:     domain.PlaceholderLongName(num),
		FirstHeardAt: now,
		LastHeardAt:  now,
		UpdatedAt:    now,
	}
	if hopStart := pkt.GetHopStart(); hopStart > 0 && hopStart >= pkt.GetHopLimit() {
		senderHops := hopStart - pkt.GetHopLimit()
		node.HopsAway = uint32Ptr(senderHops + 1)
	}

	if err := m.store.Nodes.Upsert(ctx, node); err != nil {
		m.logger.Debug("neighbor placeholder upsert failed", "error", err)
	}
}
