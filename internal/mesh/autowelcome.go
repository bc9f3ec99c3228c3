package mesh

import (
	"context"
	"strconv"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

// AutoWelcome greets nodes seen for the first time. A node is welcomed
// at most once, enforced by the welcomed timestamp in the store.
type AutoWelcome struct {
	m *Manager
}

func NewAutoWelcome(m *Manager) *AutoWelcome {
	return &AutoWelcome{m: m}
}

// Consider runs after every node row update. When name-waiting is on,
// nodes still carrying placeholder names are skipped and re-considered
// on their next update.
func (w *AutoWelcome) Consider(ctx context.Context, node domain.Node) {
	m := w.m
	if !m.settings.Bool(ctx, SettingAutoWelcomeEnabled, false) {
		return
	}
	if node.Num == m.state.LocalNum() || node.Num == domain.BroadcastNodeNum {
		return
	}
	if node.WelcomedAt != nil {
		return
	}
	if m.settings.Bool(ctx, SettingAutoWelcomeWaitForName, true) && !domain.HasRealName(node) {
		return
	}
	if !m.Connected() {
		return
	}

	template := m.settings.String(ctx, SettingAutoWelcomeMessage, defaultWelcomeMessage)
	text := ExpandTokens(template, m.buildTokenContext(ctx, &node, 0, 0))

	to, channel := w.target(ctx, node)
	if _, err := m.SendText(ctx, to, channel, text, 0, false); err != nil {
		m.logger.Warn("welcome send failed", "node_id", node.NodeID, "error", err)

		return
	}

	// Stamp first so a concurrent update cannot double-welcome.
	if err := m.store.Nodes.MarkWelcomed(ctx, node.Num, m.now()); err != nil {
		m.logger.Warn("welcome stamp failed", "node_id", node.NodeID, "error", err)
	}
	m.logger.Info("node welcomed", "node_id", node.NodeID, "name", domain.NodeDisplayName(node))
}

// target resolves the welcome destination: "dm" (default) greets the
// node directly, a numeric value broadcasts on that channel.
func (w *AutoWelcome) target(ctx context.Context, node domain.Node) (uint32, uint32) {
	raw := w.m.settings.String(ctx, SettingAutoWelcomeTarget, "dm")
	if idx, err := strconv.Atoi(raw); err == nil && idx >= 0 && idx <= 7 {
		return domain.BroadcastNodeNum, uint32(idx)
	}

	return node.Num, 0
}
