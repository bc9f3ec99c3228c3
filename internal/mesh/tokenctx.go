package mesh

import (
	"context"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

// buildTokenContext assembles the template context for outgoing
// automated messages. The sender fields stay zero when node is nil.
func (m *Manager) buildTokenContext(ctx context.Context, node *domain.Node, hopStart, hopLimit uint32) TokenContext {
	now := m.now()
	tc := TokenContext{
		Version:   m.version,
		StartedAt: m.startedAt,
		Now:       now,
		Features:  m.enabledFeatures(ctx),
		Timestamp: now,
		Location:  m.settings.Location(ctx),
		HopStart:  hopStart,
		HopLimit:  hopLimit,
	}

	nodes, err := m.store.Nodes.ListActive(ctx, m.settings.MaxNodeAge(ctx))
	if err != nil {
		m.logger.Debug("active node count failed", "error", err)
	}
	for _, n := range nodes {
		if n.Num == domain.BroadcastNodeNum {
			continue
		}
		tc.NodeCount++
		if n.HopsAway != nil && *n.HopsAway == 0 {
			tc.DirectCount++
		}
	}

	if node != nil {
		tc.NodeID = node.NodeID
		tc.LongName = domain.NodeDisplayName(*node)
		tc.ShortName = node.ShortName
	}

	return tc
}

// enabledFeatures lists the active automation engines for the
// {FEATURES} token, one emoji per engine: reply ack, welcome,
// announcements, traceroute probes.
func (m *Manager) enabledFeatures(ctx context.Context) []string {
	var features []string
	if m.settings.Bool(ctx, SettingAutoAckEnabled, false) {
		features = append(features, "✅")
	}
	if m.settings.Bool(ctx, SettingAutoWelcomeEnabled, false) {
		features = append(features, "👋")
	}
	if m.settings.Bool(ctx, SettingAutoAnnounceEnabled, false) {
		features = append(features, "📢")
	}
	if m.settings.Int(ctx, SettingTracerouteInterval, 0) > 0 {
		features = append(features, "🛰️")
	}

	return features
}
