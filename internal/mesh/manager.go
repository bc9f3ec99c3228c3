package mesh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/meshkeeper/meshkeeper/internal/bus"
	"github.com/meshkeeper/meshkeeper/internal/notify"
	"github.com/meshkeeper/meshkeeper/internal/radio"
)

const (
	loraConfigRequestDelay   = 2 * time.Second
	moduleConfigRequestDelay = 3 * time.Second
	moduleConfigRequestPace  = 100 * time.Millisecond
)

// Broadcaster receives every raw inbound frame for virtual-node
// fan-out. Registered explicitly; nil means no fan-out.
type Broadcaster interface {
	BroadcastFrame(payload []byte)
}

// Manager owns the radio session end to end: it drives the init
// handshake, decodes and dispatches every inbound frame, issues
// outbound packets, and runs the background engines.
type Manager struct {
	logger   *slog.Logger
	bus      bus.MessageBus
	session  *radio.Session
	codec    radio.Codec
	store    Store
	settings *Settings
	notifier notify.Sender
	clock    clock.Clock
	version  string

	state   *DeviceState
	capture *InitCapture

	mu                sync.Mutex
	broadcaster       Broadcaster
	onCaptureComplete func()
	sessionPasskey    []byte
	passkeyExpiry     time.Time
	passkeyWait       chan struct{}

	autoAck     *AutoAck
	autoWelcome *AutoWelcome
	probe       *ProbeScheduler
	announcer   *Announcer

	startedAt time.Time
}

type ManagerOptions struct {
	Logger   *slog.Logger
	Bus      bus.MessageBus
	Session  *radio.Session
	Codec    radio.Codec
	Store    Store
	Notifier notify.Sender
	Clock    clock.Clock
	Version  string
}

func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "mesh.manager")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	m := &Manager{
		logger:   logger,
		bus:      opts.Bus,
		session:  opts.Session,
		codec:    opts.Codec,
		store:    opts.Store,
		settings: NewSettings(opts.Store.Settings),
		notifier: opts.Notifier,
		clock:    clk,
		version:  opts.Version,
		state:    NewDeviceState(),
		capture:  NewInitCapture(),
	}
	m.autoAck = NewAutoAck(m)
	m.autoWelcome = NewAutoWelcome(m)
	m.probe = NewProbeScheduler(m, clk)
	m.announcer = NewAnnouncer(m, clk)

	if m.session != nil {
		m.session.SetFrameHandler(m.HandleFrame)
		m.session.SetConnectHook(m.onSessionConnect)
	}

	return m
}

func (m *Manager) Start(ctx context.Context) {
	m.startedAt = m.clock.Now()
	if m.session != nil {
		m.session.Start(ctx)
	}
	m.probe.Start(ctx)
	m.announcer.Start(ctx)
}

// Disconnect tears the session down on user request; schedulers stop
// probing because Connected turns false. A disconnect frame is sent
// first so the device drops the API client immediately.
func (m *Manager) Disconnect() {
	if m.session == nil {
		return
	}
	if m.session.Connected() {
		if payload, err := m.codec.EncodeDisconnect(); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := m.session.Send(ctx, payload); err != nil {
				m.logger.Debug("disconnect frame send failed", "error", err)
			}
			cancel()
		}
	}
	m.session.Disconnect()
	m.state.InvalidateCapabilities()
}

func (m *Manager) Reconnect() {
	if m.session != nil {
		m.session.Reconnect()
	}
}

func (m *Manager) Connected() bool {
	return m.session != nil && m.session.Connected()
}

// Local exposes the authoritative local-node record.
func (m *Manager) Local() (LocalNode, bool) {
	return m.state.Local()
}

func (m *Manager) DeviceState() *DeviceState {
	return m.state
}

func (m *Manager) Settings() *Settings {
	return m.settings
}

func (m *Manager) StartedAt() time.Time {
	return m.startedAt
}

// RegisterBroadcaster installs the virtual-node fan-out slot.
func (m *Manager) RegisterBroadcaster(b Broadcaster) {
	m.mu.Lock()
	m.broadcaster = b
	m.mu.Unlock()
}

// OnConfigCaptureComplete registers a one-shot callback fired when the
// init capture freezes.
func (m *Manager) OnConfigCaptureComplete(fn func()) {
	m.mu.Lock()
	m.onCaptureComplete = fn
	m.mu.Unlock()
}

// InitSnapshot returns a defensive copy of the captured init frames.
func (m *Manager) InitSnapshot() [][]byte {
	return m.capture.Snapshot()
}

func (m *Manager) currentBroadcaster() Broadcaster {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.broadcaster
}

// onSessionConnect runs the device initialization handshake: open the
// capture window, request the full config stream, then follow up with
// the targeted LoRa config and all module configs.
func (m *Manager) onSessionConnect(ctx context.Context) {
	m.capture.Begin()
	m.state.InvalidateCapabilities()

	payload, err := m.codec.EncodeWantConfig()
	if err != nil {
		m.logger.Error("encode want_config failed", "error", err)

		return
	}
	if err := m.session.Send(ctx, payload); err != nil {
		m.logger.Error("want_config send failed", "error", err)

		return
	}
	m.logger.Info("init handshake started")

	m.clock.AfterFunc(loraConfigRequestDelay, func() {
		if err := m.RequestLoraConfig(ctx); err != nil {
			m.logger.Warn("lora get_config failed", "error", err)
		}
	})
	m.clock.AfterFunc(moduleConfigRequestDelay, func() {
		if err := m.RequestAllModuleConfigs(ctx); err != nil {
			m.logger.Warn("module get_config sweep failed", "error", err)
		}
	})
}

func (m *Manager) now() time.Time {
	return m.clock.Now()
}

func (m *Manager) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(topic, payload)
}

func (m *Manager) notify(ctx context.Context, title, body string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, title, body); err != nil {
		m.logger.Debug("notification failed", "error", err)
	}
}

// ApplySchedulerSettings revalidates and restarts both schedulers after
// a settings change through the REST surface.
func (m *Manager) ApplySchedulerSettings(ctx context.Context) error {
	if err := m.announcer.Restart(ctx); err != nil {
		return err
	}
	m.probe.Restart(ctx)

	return nil
}
