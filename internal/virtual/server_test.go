package virtual

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/meshkeeper/meshkeeper/internal/transport"
)

type fakeUpstream struct {
	mu        sync.Mutex
	initFrame [][]byte
	forwarded [][]byte
}

func (u *fakeUpstream) InitSnapshot() [][]byte {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([][]byte, len(u.initFrame))
	copy(out, u.initFrame)

	return out
}

func (u *fakeUpstream) SendRaw(_ context.Context, payload []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.forwarded = append(u.forwarded, append([]byte(nil), payload...))

	return nil
}

func (u *fakeUpstream) forwardedFrames() [][]byte {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([][]byte, len(u.forwarded))
	copy(out, u.forwarded)

	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, upstream Upstream) (*Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(testLogger(), upstream)
	if err := srv.Start(ctx, "127.0.0.1:0"); err != nil {
		cancel()
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
	})

	return srv, cancel
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial virtual node: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readPayload(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := transport.ReadFramePayload(conn)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}

	return payload
}

func TestNewClientReceivesInitReplay(t *testing.T) {
	upstream := &fakeUpstream{initFrame: [][]byte{{0x01, 0x02}, {0x03}}}
	srv, _ := startServer(t, upstream)

	conn := dial(t, srv)

	if got := readPayload(t, conn); !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Fatalf("first replayed frame = %x", got)
	}
	if got := readPayload(t, conn); !bytes.Equal(got, []byte{0x03}) {
		t.Fatalf("second replayed frame = %x", got)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	upstream := &fakeUpstream{}
	srv, _ := startServer(t, upstream)

	first := dial(t, srv)
	second := dial(t, srv)
	waitForClients(t, srv, 2)

	srv.BroadcastFrame([]byte{0xaa, 0xbb, 0xcc})

	for _, conn := range []net.Conn{first, second} {
		if got := readPayload(t, conn); !bytes.Equal(got, []byte{0xaa, 0xbb, 0xcc}) {
			t.Fatalf("broadcast payload = %x", got)
		}
	}
}

func TestClientFramesForwardedUpstream(t *testing.T) {
	upstream := &fakeUpstream{}
	srv, _ := startServer(t, upstream)

	conn := dial(t, srv)
	waitForClients(t, srv, 1)

	frame, err := transport.EncodeFrame([]byte{0x10, 0x20, 0x30})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if frames := upstream.forwardedFrames(); len(frames) == 1 {
			if !bytes.Equal(frames[0], []byte{0x10, 0x20, 0x30}) {
				t.Fatalf("forwarded payload = %x", frames[0])
			}

			return
		}
		if time.Now().After(deadline) {
			t.Fatal("frame never forwarded upstream")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDisconnectedClientDropped(t *testing.T) {
	upstream := &fakeUpstream{}
	srv, _ := startServer(t, upstream)

	conn := dial(t, srv)
	waitForClients(t, srv, 1)
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client not dropped, count = %d", srv.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForClients(t *testing.T, srv *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", srv.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
