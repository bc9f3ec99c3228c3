package radio

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/meshkeeper/meshkeeper/internal/bus"
	"github.com/meshkeeper/meshkeeper/internal/events"
	"github.com/meshkeeper/meshkeeper/internal/transport"
)

const (
	DefaultStaleTimeout = 90 * time.Second

	heartbeatInterval = 25 * time.Second
	writeTimeout      = 8 * time.Second
	maxBackoff        = 15 * time.Second
)

// FrameHandler receives every inbound frame payload in wire order.
type FrameHandler func(ctx context.Context, payload []byte)

// ConnectHook runs once per established session before the reader
// starts consuming frames.
type ConnectHook func(ctx context.Context)

// Session owns the single radio link. It dials, feeds inbound frames to
// the handler, applies the stale-frame watchdog, and reconnects after
// involuntary loss unless the user disconnected on purpose.
type Session struct {
	logger    *slog.Logger
	bus       bus.MessageBus
	transport transport.Transport
	codec     Codec

	handler   FrameHandler
	onConnect ConnectHook

	mu               sync.Mutex
	staleTimeout     time.Duration
	userDisconnected bool
	connected        bool
	resume           chan struct{}
}

func NewSession(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, codec Codec) *Session {
	if logger == nil {
		logger = slog.Default().With("component", "radio.session")
	}

	return &Session{
		logger:       logger,
		bus:          b,
		transport:    tr,
		codec:        codec,
		staleTimeout: DefaultStaleTimeout,
		resume:       make(chan struct{}, 1),
	}
}

// SetFrameHandler must be called before Start.
func (s *Session) SetFrameHandler(h FrameHandler) {
	s.handler = h
}

// SetConnectHook must be called before Start.
func (s *Session) SetConnectHook(h ConnectHook) {
	s.onConnect = h
}

// SetStaleTimeout changes the frame-level watchdog window. A session is
// considered stale and torn down when no frame arrives in the window.
func (s *Session) SetStaleTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultStaleTimeout
	}
	s.mu.Lock()
	s.staleTimeout = d
	s.mu.Unlock()
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

// Disconnect tears the session down and suppresses automatic reconnect
// until Reconnect is called. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.userDisconnected = true
	s.mu.Unlock()
	_ = s.transport.Close()
}

// Reconnect clears the user-disconnect flag and wakes the connect loop.
func (s *Session) Reconnect() {
	s.mu.Lock()
	s.userDisconnected = false
	s.mu.Unlock()
	select {
	case s.resume <- struct{}{}:
	default:
	}
}

// Send transmits one encoded frame. Fails fast when not connected.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if !s.Connected() {
		return transport.ErrNotConnected
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := s.transport.WriteFrame(writeCtx, payload); err != nil {
		return err
	}
	s.publishRawFrame(events.TopicRawFrameOut, payload)

	return nil
}

func (s *Session) Start(ctx context.Context) {
	go s.runConnector(ctx)
}

func (s *Session) runConnector(ctx context.Context) {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if s.waitWhileUserDisconnected(ctx) {
			return
		}

		s.publishStatus(events.ConnectionStateConnecting, nil)
		if err := s.transport.Connect(ctx); err != nil {
			s.publishStatus(events.ConnectionStateReconnecting, err)
			s.logger.Error("transport connect failed", "error", err)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		s.setConnected(true)
		s.publishStatus(events.ConnectionStateConnected, nil)
		if s.onConnect != nil {
			s.onConnect(ctx)
		}

		keepAliveCtx, cancelKeepAlive := context.WithCancel(ctx)
		go s.runKeepAlive(keepAliveCtx)
		err := s.runReader(ctx)
		cancelKeepAlive()
		_ = s.transport.Close()
		s.setConnected(false)

		if s.isUserDisconnected() {
			s.publishStatus(events.ConnectionStateDisconnected, nil)
			continue
		}
		s.publishStatus(events.ConnectionStateReconnecting, err)

		if !sleepWithContext(ctx, backoff) {
			return
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// runReader delivers frames in arrival order. The per-read deadline is
// the stale watchdog: a window without any frame ends the session.
func (s *Session) runReader(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		readCtx, cancel := context.WithTimeout(ctx, s.currentStaleTimeout())
		payload, err := s.transport.ReadFrame(readCtx)
		cancel()
		if err != nil {
			return err
		}

		s.publishRawFrame(events.TopicRawFrameIn, payload)
		if s.handler != nil {
			s.handler(ctx, payload)
		}
	}
}

func (s *Session) runKeepAlive(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := s.codec.EncodeHeartbeat()
			if err != nil {
				s.logger.Debug("encode heartbeat failed", "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = s.transport.WriteFrame(writeCtx, payload)
			cancel()
			if err != nil {
				s.logger.Debug("heartbeat write failed", "error", err)
			}
		}
	}
}

func (s *Session) waitWhileUserDisconnected(ctx context.Context) bool {
	for s.isUserDisconnected() {
		select {
		case <-ctx.Done():
			return true
		case <-s.resume:
		}
	}

	return false
}

func (s *Session) isUserDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.userDisconnected
}

func (s *Session) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Session) currentStaleTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.staleTimeout
}

func (s *Session) publishStatus(state events.ConnectionState, err error) {
	if s.bus == nil {
		return
	}
	status := events.ConnectionStatus{
		State:         state,
		TransportName: s.transport.Name(),
		Timestamp:     time.Now(),
	}
	if resolver, ok := s.transport.(transport.StatusTargetResolver); ok {
		status.Target = resolver.StatusTarget()
	}
	if err != nil {
		status.Err = err.Error()
	}
	s.bus.Publish(events.TopicConnStatus, status)
}

func (s *Session) publishRawFrame(topic string, payload []byte) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, events.RawFrame{
		Hex: hex.EncodeToString(payload),
		Len: len(payload),
	})
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
