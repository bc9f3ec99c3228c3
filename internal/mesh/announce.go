package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

const (
	minAnnounceInterval = 3 * time.Hour
	maxAnnounceInterval = 24 * time.Hour
	// announceStartupGrace suppresses the on-start announcement when the
	// previous one went out recently, so restart loops stay quiet.
	announceStartupGrace = time.Hour
)

// Announcer broadcasts a periodic presence message, either on a fixed
// interval or a cron schedule.
type Announcer struct {
	m   *Manager
	clk clock.Clock

	mu   sync.Mutex
	ctx  context.Context
	stop chan struct{}
}

func NewAnnouncer(m *Manager, clk clock.Clock) *Announcer {
	return &Announcer{m: m, clk: clk}
}

func (a *Announcer) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	if a.m.settings.Bool(ctx, SettingAutoAnnounceEnabled, false) &&
		a.m.settings.Bool(ctx, SettingAutoAnnounceOnStart, false) {
		if last, ok := a.m.settings.Time(ctx, SettingLastAnnouncementTime); !ok || a.clk.Now().Sub(last) >= announceStartupGrace {
			a.Announce(ctx)
		} else {
			a.m.logger.Info("startup announcement suppressed", "last", last)
		}
	}

	if err := a.Restart(ctx); err != nil {
		a.m.logger.Warn("announce schedule invalid", "error", err)
	}
}

// Restart revalidates the schedule settings and replaces the running
// loop. Returns an error for an unparsable cron expression or an
// out-of-range interval so the settings surface can reject the change.
func (a *Announcer) Restart(ctx context.Context) error {
	a.mu.Lock()
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
	if a.ctx == nil {
		a.ctx = ctx
	}
	runCtx := a.ctx
	a.mu.Unlock()

	settings := a.m.settings
	if !settings.Bool(ctx, SettingAutoAnnounceEnabled, false) {
		return nil
	}

	var next func(time.Time) time.Time
	if settings.Bool(ctx, SettingAutoAnnounceUseSchedule, false) {
		expr := settings.String(ctx, SettingAutoAnnounceSchedule, "")
		schedule, err := cron.ParseStandard(expr)
		if err != nil {
			return fmt.Errorf("parse announce schedule %q: %w", expr, err)
		}
		next = schedule.Next
		a.m.logger.Info("announcements scheduled", "cron", expr)
	} else {
		hours := settings.Int(ctx, SettingAutoAnnounceInterval, 0)
		interval := time.Duration(hours) * time.Hour
		if interval < minAnnounceInterval || interval > maxAnnounceInterval {
			return fmt.Errorf("announce interval %dh outside %v..%v", hours, minAnnounceInterval, maxAnnounceInterval)
		}
		next = func(t time.Time) time.Time { return t.Add(interval) }
		a.m.logger.Info("announcements scheduled", "interval_hours", hours)
	}

	stop := make(chan struct{})
	a.mu.Lock()
	a.stop = stop
	a.mu.Unlock()
	go a.run(runCtx, next, stop)

	return nil
}

func (a *Announcer) run(ctx context.Context, next func(time.Time) time.Time, stop chan struct{}) {
	for {
		now := a.clk.Now()
		timer := a.clk.Timer(next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()

			return
		case <-stop:
			timer.Stop()

			return
		case <-timer.C:
			a.Announce(ctx)
		}
	}
}

// Announce sends one presence broadcast immediately.
func (a *Announcer) Announce(ctx context.Context) {
	m := a.m
	if !m.Connected() {
		m.logger.Debug("announcement skipped, not connected")

		return
	}

	template := m.settings.String(ctx, SettingAutoAnnounceMessage, defaultAnnounceMessage)
	text := ExpandTokens(template, m.buildTokenContext(ctx, nil, 0, 0))
	channel := uint32(m.settings.Int(ctx, SettingAutoAnnounceChannelIndex, 0))

	if _, err := m.SendText(ctx, domain.BroadcastNodeNum, channel, text, 0, false); err != nil {
		m.logger.Warn("announcement send failed", "error", err)

		return
	}
	if err := m.settings.SetTime(ctx, SettingLastAnnouncementTime, m.clock.Now()); err != nil {
		m.logger.Warn("announcement timestamp persist failed", "error", err)
	}
	m.logger.Info("announcement sent", "channel", channel)
}
