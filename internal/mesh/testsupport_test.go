package mesh

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/meshkeeper/meshkeeper/internal/domain"
	"github.com/meshkeeper/meshkeeper/internal/radio"
)

type memNodeRepo struct {
	mu    sync.Mutex
	nodes map[uint32]domain.Node
}

func newMemNodeRepo() *memNodeRepo {
	return &memNodeRepo{nodes: make(map[uint32]domain.Node)}
}

func (r *memNodeRepo) Upsert(_ context.Context, n domain.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.nodes[n.Num]; ok {
		n.FirstHeardAt = existing.FirstHeardAt
		if n.WelcomedAt == nil {
			n.WelcomedAt = existing.WelcomedAt
		}
		if n.LastTracerouteAt == nil {
			n.LastTracerouteAt = existing.LastTracerouteAt
		}
	}
	r.nodes[n.Num] = n

	return nil
}

func (r *memNodeRepo) Get(_ context.Context, num uint32) (domain.Node, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[num]

	return n, ok, nil
}

func (r *memNodeRepo) ListActive(_ context.Context, _ time.Duration) ([]domain.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })

	return out, nil
}

func (r *memNodeRepo) UpdateMobility(_ context.Context, num uint32, mobile bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[num]; ok {
		n.IsMobile = mobile
		r.nodes[num] = n
	}

	return nil
}

func (r *memNodeRepo) MarkWelcomed(_ context.Context, num uint32, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[num]; ok && n.WelcomedAt == nil {
		n.WelcomedAt = &at
		r.nodes[num] = n
	}

	return nil
}

func (r *memNodeRepo) RecordTracerouteRequest(_ context.Context, num uint32, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[num]; ok {
		n.LastTracerouteAt = &at
		r.nodes[num] = n
	}

	return nil
}

func (r *memNodeRepo) NeedingTraceroute(_ context.Context, _ time.Duration) (domain.Node, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best domain.Node
	found := false
	for _, n := range r.nodes {
		if n.Num == domain.BroadcastNodeNum {
			continue
		}
		if !found {
			best = n
			found = true
			continue
		}
		switch {
		case n.LastTracerouteAt == nil && best.LastTracerouteAt != nil:
			best = n
		case n.LastTracerouteAt != nil && best.LastTracerouteAt != nil &&
			n.LastTracerouteAt.Before(*best.LastTracerouteAt):
			best = n
		}
	}

	return best, found, nil
}

type memMessageRepo struct {
	mu       sync.Mutex
	order    []string
	messages map[string]domain.Message
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{messages: make(map[string]domain.Message)}
}

func (r *memMessageRepo) Insert(_ context.Context, m domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[m.ID]; ok {
		return nil
	}
	r.messages[m.ID] = m
	r.order = append(r.order, m.ID)

	return nil
}

func (r *memMessageRepo) GetByRequestID(_ context.Context, requestID uint32) (domain.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		m := r.messages[r.order[i]]
		if m.RequestID == requestID {
			return m, true, nil
		}
	}

	return domain.Message{}, false, nil
}

func (r *memMessageRepo) UpdateDeliveryState(_ context.Context, id string, state domain.DeliveryState, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[id]; ok {
		m.DeliveryState = state
		m.FailureReason = reason
		r.messages[id] = m
	}

	return nil
}

func (r *memMessageRepo) MarkRead(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[id]; ok {
		m.Read = true
		r.messages[id] = m
	}

	return nil
}

func (r *memMessageRepo) ListRecent(_ context.Context, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.messages[r.order[i]])
	}

	return out, nil
}

func (r *memMessageRepo) get(id string) (domain.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]

	return m, ok
}

func (r *memMessageRepo) outbound() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, id := range r.order {
		if m := r.messages[id]; m.Direction == domain.MessageDirectionOut {
			out = append(out, m)
		}
	}

	return out
}

type memChannelRepo struct {
	mu       sync.Mutex
	channels map[int]domain.Channel
}

func newMemChannelRepo() *memChannelRepo {
	return &memChannelRepo{channels: make(map[int]domain.Channel)}
}

func (r *memChannelRepo) Upsert(_ context.Context, c domain.Channel) error {
	r.mu.Lock()
	r.channels[c.Index] = c
	r.mu.Unlock()

	return nil
}

func (r *memChannelRepo) GetByIndex(_ context.Context, index int) (domain.Channel, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[index]

	return c, ok, nil
}

func (r *memChannelRepo) List(_ context.Context) ([]domain.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	return out, nil
}

type memTelemetryRepo struct {
	mu      sync.Mutex
	samples []domain.TelemetrySample
}

func (r *memTelemetryRepo) Insert(_ context.Context, s domain.TelemetrySample) error {
	r.mu.Lock()
	s.ID = int64(len(r.samples) + 1)
	r.samples = append(r.samples, s)
	r.mu.Unlock()

	return nil
}

func (r *memTelemetryRepo) LatestForType(_ context.Context, nodeNum uint32, t domain.TelemetryType) (domain.TelemetrySample, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.samples) - 1; i >= 0; i-- {
		if r.samples[i].NodeNum == nodeNum && r.samples[i].Type == t {
			return r.samples[i], true, nil
		}
	}

	return domain.TelemetrySample{}, false, nil
}

func (r *memTelemetryRepo) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []domain.TelemetrySample
	var purged int64
	for _, s := range r.samples {
		if s.At.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, s)
	}
	r.samples = kept

	return purged, nil
}

func (r *memTelemetryRepo) forType(nodeNum uint32, t domain.TelemetryType) []domain.TelemetrySample {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TelemetrySample
	for _, s := range r.samples {
		if s.NodeNum == nodeNum && s.Type == t {
			out = append(out, s)
		}
	}

	return out
}

type memTracerouteRepo struct {
	mu       sync.Mutex
	records  []domain.Traceroute
	segments []domain.RouteSegment
}

func (r *memTracerouteRepo) Insert(_ context.Context, t domain.Traceroute) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = int64(len(r.records) + 1)
	r.records = append(r.records, t)

	return t.ID, nil
}

func (r *memTracerouteRepo) InsertSegment(_ context.Context, s domain.RouteSegment) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = int64(len(r.segments) + 1)
	r.segments = append(r.segments, s)

	return s.ID, nil
}

func (r *memTracerouteRepo) RecordDistanceKm(_ context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max float64
	for _, s := range r.segments {
		if s.DistanceKm != nil && *s.DistanceKm > max {
			max = *s.DistanceKm
		}
	}

	return max, nil
}

func (r *memTracerouteRepo) SetRecordHolder(_ context.Context, segmentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.segments {
		r.segments[i].IsRecordHolder = r.segments[i].ID == segmentID
	}

	return nil
}

func (r *memTracerouteRepo) ListRecent(_ context.Context, limit int) ([]domain.Traceroute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Traceroute
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.records[i])
	}

	return out, nil
}

type memNeighborRepo struct {
	mu        sync.Mutex
	neighbors map[uint32][]domain.Neighbor
}

func newMemNeighborRepo() *memNeighborRepo {
	return &memNeighborRepo{neighbors: make(map[uint32][]domain.Neighbor)}
}

func (r *memNeighborRepo) ReplaceForNode(_ context.Context, nodeNum uint32, neighbors []domain.Neighbor) error {
	r.mu.Lock()
	r.neighbors[nodeNum] = append([]domain.Neighbor(nil), neighbors...)
	r.mu.Unlock()

	return nil
}

func (r *memNeighborRepo) ListForNode(_ context.Context, nodeNum uint32) ([]domain.Neighbor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]domain.Neighbor(nil), r.neighbors[nodeNum]...), nil
}

type memSettingsRepo struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettingsRepo() *memSettingsRepo {
	return &memSettingsRepo{values: make(map[string]string)}
}

func (r *memSettingsRepo) Get(_ context.Context, key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]

	return v, ok, nil
}

func (r *memSettingsRepo) Set(_ context.Context, key, value string) error {
	r.mu.Lock()
	r.values[key] = value
	r.mu.Unlock()

	return nil
}

type memPacketLogRepo struct {
	mu      sync.Mutex
	entries []domain.PacketLogEntry
}

func (r *memPacketLogRepo) Insert(_ context.Context, e domain.PacketLogEntry) error {
	r.mu.Lock()
	e.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	return nil
}

func (r *memPacketLogRepo) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []domain.PacketLogEntry
	var purged int64
	for _, e := range r.entries {
		if e.At.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept

	return purged, nil
}

type memStore struct {
	nodes       *memNodeRepo
	messages    *memMessageRepo
	channels    *memChannelRepo
	telemetry   *memTelemetryRepo
	traceroutes *memTracerouteRepo
	neighbors   *memNeighborRepo
	settings    *memSettingsRepo
	packetLog   *memPacketLogRepo
}

func newMemStore() *memStore {
	return &memStore{
		nodes:       newMemNodeRepo(),
		messages:    newMemMessageRepo(),
		channels:    newMemChannelRepo(),
		telemetry:   &memTelemetryRepo{},
		traceroutes: &memTracerouteRepo{},
		neighbors:   newMemNeighborRepo(),
		settings:    newMemSettingsRepo(),
		packetLog:   &memPacketLogRepo{},
	}
}

func (s *memStore) store() Store {
	return Store{
		Nodes:       s.nodes,
		Messages:    s.messages,
		Channels:    s.channels,
		Telemetry:   s.telemetry,
		Traceroutes: s.traceroutes,
		Neighbors:   s.neighbors,
		Settings:    s.settings,
		PacketLog:   s.packetLog,
	}
}

// idleTransport connects instantly, records writes, and blocks reads
// until the context ends.
type idleTransport struct {
	mu     sync.Mutex
	writes [][]byte
}

func (t *idleTransport) Name() string { return "idle" }

func (t *idleTransport) Connect(_ context.Context) error { return nil }

func (t *idleTransport) Close() error { return nil }

func (t *idleTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	<-ctx.Done()

	return nil, ctx.Err()
}

func (t *idleTransport) WriteFrame(_ context.Context, payload []byte) error {
	t.mu.Lock()
	t.writes = append(t.writes, append([]byte(nil), payload...))
	t.mu.Unlock()

	return nil
}

func (t *idleTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.writes)
}

func (t *idleTransport) frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)

	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	manager   *Manager
	store     *memStore
	clk       *clock.Mock
	transport *idleTransport
	cancel    context.CancelFunc
}

// newTestEnv builds a manager over in-memory repositories. When
// connected is true the session runs over an idle transport and the env
// waits for the link to come up.
func newTestEnv(t *testing.T, connected bool) *testEnv {
	t.Helper()

	mem := newMemStore()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	codec, err := radio.NewMeshtasticCodec()
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	env := &testEnv{store: mem, clk: clk}

	var session *radio.Session
	if connected {
		env.transport = &idleTransport{}
		session = radio.NewSession(discardLogger(), nil, env.transport, codec)
	}

	env.manager = NewManager(ManagerOptions{
		Logger:  discardLogger(),
		Session: session,
		Codec:   codec,
		Store:   mem.store(),
		Clock:   clk,
		Version: "test",
	})

	if connected {
		ctx, cancel := context.WithCancel(context.Background())
		env.cancel = cancel
		t.Cleanup(cancel)
		session.Start(ctx)
		waitFor(t, func() bool { return session.Connected() })
	}

	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func seedLocalNode(env *testEnv, num uint32) {
	env.manager.state.ProcessMyNodeInfo(myInfoProto(num), nil)
}
