package radio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/meshkeeper/meshkeeper/internal/transport"
)

type fakeTransport struct {
	mu       sync.Mutex
	frames   chan []byte
	written  [][]byte
	connects int
	closed   int
	failDial bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan []byte, 16)}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.failDial {
		return errors.New("dial refused")
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload, ok := <-f.frames:
		if !ok {
			return nil, io.EOF
		}
		return payload, nil
	}
}

func (f *fakeTransport) WriteFrame(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), payload...))
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionDeliversFramesInOrder(t *testing.T) {
	tr := newFakeTransport()
	codec := mustNewMeshtasticCodec(t)
	session := NewSession(discardLogger(), nil, tr, codec)

	var (
		mu       sync.Mutex
		received [][]byte
	)
	done := make(chan struct{})
	session.SetFrameHandler(func(_ context.Context, payload []byte) {
		mu.Lock()
		received = append(received, payload)
		if len(received) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.Start(ctx)

	tr.frames <- []byte{1}
	tr.frames <- []byte{2}
	tr.frames <- []byte{3}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("frames were not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []byte{1, 2, 3} {
		if received[i][0] != want {
			t.Fatalf("frame %d out of order: %v", i, received[i])
		}
	}
}

func TestSessionRunsConnectHookOncePerSession(t *testing.T) {
	tr := newFakeTransport()
	codec := mustNewMeshtasticCodec(t)
	session := NewSession(discardLogger(), nil, tr, codec)

	hooks := make(chan struct{}, 4)
	session.SetConnectHook(func(_ context.Context) {
		hooks <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.Start(ctx)

	select {
	case <-hooks:
	case <-time.After(2 * time.Second):
		t.Fatal("connect hook never ran")
	}
}

func TestSessionSendFailsWhenDisconnected(t *testing.T) {
	tr := newFakeTransport()
	codec := mustNewMeshtasticCodec(t)
	session := NewSession(discardLogger(), nil, tr, codec)

	err := session.Send(context.Background(), []byte{1})
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSessionUserDisconnectSuppressesReconnect(t *testing.T) {
	tr := newFakeTransport()
	codec := mustNewMeshtasticCodec(t)
	session := NewSession(discardLogger(), nil, tr, codec)
	session.SetFrameHandler(func(_ context.Context, _ []byte) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !session.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("session never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	session.Disconnect()
	close(tr.frames)

	deadline = time.Now().Add(2 * time.Second)
	for session.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("session did not disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Give the connector loop a moment; it must not dial again.
	time.Sleep(100 * time.Millisecond)
	tr.mu.Lock()
	connects := tr.connects
	tr.mu.Unlock()
	if connects != 1 {
		t.Fatalf("expected a single connect, got %d", connects)
	}
}
