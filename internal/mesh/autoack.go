package mesh

import (
	"context"
	"regexp"
	"sync"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

// AutoAck replies to inbound text messages matching a configured
// pattern. The compiled regex is cached until the pattern setting
// changes.
type AutoAck struct {
	m *Manager

	mu      sync.Mutex
	pattern string
	re      *regexp.Regexp
}

func NewAutoAck(m *Manager) *AutoAck {
	return &AutoAck{m: m}
}

// Consider inspects one stored inbound text message and sends an
// acknowledge reply when every gate passes.
func (a *AutoAck) Consider(ctx context.Context, pkt *generated.MeshPacket, msg domain.Message) {
	m := a.m
	settings := m.settings
	if !settings.Bool(ctx, SettingAutoAckEnabled, false) {
		return
	}
	if msg.FromNum == m.state.LocalNum() {
		return
	}

	isDM := msg.Channel == domain.DMChannel
	if isDM {
		if !settings.Bool(ctx, SettingAutoAckDirectMessages, false) {
			return
		}
	} else {
		allowed := settings.IntSet(ctx, SettingAutoAckChannels)
		if !allowed[msg.Channel] {
			return
		}
	}

	re := a.compiled(ctx)
	if re == nil || !re.MatchString(msg.Text) {
		return
	}

	node, ok, err := m.store.Nodes.Get(ctx, msg.FromNum)
	if err != nil || !ok {
		node = domain.Node{Num: msg.FromNum, NodeID: domain.FormatNodeNum(msg.FromNum)}
	}
	template := settings.String(ctx, SettingAutoAckMessage, defaultAutoAckMessage)
	reply := ExpandTokens(template, m.buildTokenContext(ctx, &node, msg.HopStart, msg.HopLimit))

	to := domain.BroadcastNodeNum
	channel := uint32(0)
	replyID := pkt.GetId()
	if isDM || settings.Bool(ctx, SettingAutoAckUseDM, false) {
		// Direct reply to the sender; the DM path ignores the original
		// channel index and drops the reply reference since the DM is
		// not threaded under the channel message.
		to = msg.FromNum
		replyID = 0
	} else {
		channel = uint32(msg.Channel)
	}

	if _, err := m.SendText(ctx, to, channel, reply, replyID, false); err != nil {
		m.logger.Warn("auto-ack send failed", "to", domain.FormatNodeNum(to), "error", err)

		return
	}
	m.logger.Info("auto-ack sent", "to", domain.FormatNodeNum(msg.FromNum), "dm", to != domain.BroadcastNodeNum)
}

// compiled returns the regex for the current pattern setting, caching
// the compilation keyed by pattern text. An empty or invalid pattern
// disables matching.
func (a *AutoAck) compiled(ctx context.Context) *regexp.Regexp {
	pattern := a.m.settings.String(ctx, SettingAutoAckRegex, "")
	if pattern == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if pattern == a.pattern {
		return a.re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		a.m.logger.Warn("auto-ack pattern invalid", "pattern", pattern, "error", err)
		re = nil
	}
	a.pattern = pattern
	a.re = re

	return re
}
