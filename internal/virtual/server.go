package virtual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/meshkeeper/meshkeeper/internal/transport"
)

// Upstream is the slice of the mesh manager the virtual node needs: the
// captured init stream for replay and the raw outbound path to the
// radio.
type Upstream interface {
	InitSnapshot() [][]byte
	SendRaw(ctx context.Context, payload []byte) error
}

// Server exposes the managed radio as a standard Meshtastic TCP node.
// Every connected client first receives the replayed init stream, then
// a live copy of each inbound frame. Frames written by clients are
// forwarded to the radio unchanged.
type Server struct {
	logger   *slog.Logger
	upstream Upstream

	mu       sync.Mutex
	listener net.Listener
	clients  map[string]*client
	closed   bool
}

type client struct {
	id   string
	conn net.Conn

	writeMu sync.Mutex
}

func NewServer(logger *slog.Logger, upstream Upstream) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		logger:   logger.With("component", "virtual"),
		upstream: upstream,
		clients:  make(map[string]*client),
	}
}

// Start begins accepting clients on addr. It returns once the listener
// is bound; accepted connections are served on their own goroutines
// until Close or context cancellation.
func (s *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("virtual node listen: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = listener.Close()

		return errors.New("virtual node server is closed")
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("virtual node listening", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	go s.acceptLoop(ctx)

	return nil
}

// Addr reports the bound listener address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}
	s.closed = true
	listener := s.listener
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
	if listener != nil {
		return listener.Close()
	}

	return nil
}

// BroadcastFrame fans one raw inbound frame out to every connected
// client. Clients that fail to take the write are dropped.
func (s *Server) BroadcastFrame(payload []byte) {
	frame, err := transport.EncodeFrame(payload)
	if err != nil {
		s.logger.Warn("encode broadcast frame failed", "len", len(payload), "error", err)

		return
	}

	for _, c := range s.snapshot() {
		if err := c.write(frame); err != nil {
			s.logger.Debug("client write failed, dropping", "client", c.id, "error", err)
			s.drop(c)
		}
	}
}

// ClientCount reports how many clients are currently attached.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.acceptOne()
		if err != nil {
			if !s.isClosed() {
				s.logger.Warn("accept failed", "error", err)
			}

			return
		}

		c := &client{id: uuid.NewString(), conn: conn}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()

			return
		}
		s.clients[c.id] = c
		s.mu.Unlock()

		s.logger.Info("client connected", "client", c.id, "remote", conn.RemoteAddr().String())
		go s.serveClient(ctx, c)
	}
}

func (s *Server) acceptOne() (net.Conn, error) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return nil, errors.New("listener not started")
	}

	return listener.Accept()
}

func (s *Server) serveClient(ctx context.Context, c *client) {
	defer func() {
		s.drop(c)
		s.logger.Info("client disconnected", "client", c.id)
	}()

	if err := s.replayInit(c); err != nil {
		s.logger.Debug("init replay failed", "client", c.id, "error", err)

		return
	}

	for {
		payload, err := transport.ReadFramePayload(c.conn)
		if err != nil {
			return
		}
		if err := s.upstream.SendRaw(ctx, payload); err != nil {
			s.logger.Warn("forward client frame failed", "client", c.id, "len", len(payload), "error", err)
		}
	}
}

// replayInit sends the captured device init stream so the client can
// finish its own want_config handshake against the virtual node.
func (s *Server) replayInit(c *client) error {
	frames := s.upstream.InitSnapshot()
	for _, payload := range frames {
		frame, err := transport.EncodeFrame(payload)
		if err != nil {
			return err
		}
		if err := c.write(frame); err != nil {
			return err
		}
	}
	s.logger.Debug("init stream replayed", "client", c.id, "frames", len(frames))

	return nil
}

func (s *Server) snapshot() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}

	return out
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	_ = c.conn.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (c *client) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(frame)

	return err
}
