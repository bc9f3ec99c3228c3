package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

const maxProbeIntervalMinutes = 60

// ProbeScheduler periodically traceroutes the active node most in need
// of a probe: never-probed nodes first, then the least recently probed.
type ProbeScheduler struct {
	m   *Manager
	clk clock.Clock

	mu     sync.Mutex
	ctx    context.Context
	ticker *clock.Ticker
	stop   chan struct{}
}

func NewProbeScheduler(m *Manager, clk clock.Clock) *ProbeScheduler {
	return &ProbeScheduler{m: m, clk: clk}
}

func (p *ProbeScheduler) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
	p.Restart(ctx)
}

// Restart re-reads the interval setting and replaces the running
// ticker. An interval outside 1..60 minutes disables probing.
func (p *ProbeScheduler) Restart(ctx context.Context) {
	minutes := p.m.settings.Int(ctx, SettingTracerouteInterval, 0)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker != nil {
		p.ticker.Stop()
		close(p.stop)
		p.ticker = nil
		p.stop = nil
	}
	if minutes <= 0 || minutes > maxProbeIntervalMinutes {
		if minutes > maxProbeIntervalMinutes {
			p.m.logger.Warn("traceroute interval out of range, probing disabled", "minutes", minutes)
		}

		return
	}
	if p.ctx == nil {
		p.ctx = ctx
	}

	p.ticker = p.clk.Ticker(time.Duration(minutes) * time.Minute)
	p.stop = make(chan struct{})
	go p.run(p.ctx, p.ticker, p.stop)
	p.m.logger.Info("traceroute probing enabled", "interval_minutes", minutes)
}

func (p *ProbeScheduler) run(ctx context.Context, ticker *clock.Ticker, stop chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *ProbeScheduler) tick(ctx context.Context) {
	m := p.m
	if !m.Connected() {
		return
	}
	if _, ok := m.Local(); !ok {
		return
	}

	node, ok, err := m.store.Nodes.NeedingTraceroute(ctx, m.settings.MaxNodeAge(ctx))
	if err != nil {
		m.logger.Warn("probe candidate lookup failed", "error", err)

		return
	}
	if !ok {
		return
	}

	if err := m.SendTraceroute(ctx, node.Num, 0); err != nil {
		m.logger.Warn("scheduled traceroute failed",
			"node_id", domain.FormatNodeNum(node.Num), "error", err)
	}
}
