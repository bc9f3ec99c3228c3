package domain

import (
	"context"
	"time"
)

type NodeRepository interface {
	Upsert(ctx context.Context, n Node) error
	Get(ctx context.Context, num uint32) (Node, bool, error)
	ListActive(ctx context.Context, maxAge time.Duration) ([]Node, error)
	UpdateMobility(ctx context.Context, num uint32, mobile bool) error
	MarkWelcomed(ctx context.Context, num uint32, at time.Time) error
	RecordTracerouteRequest(ctx context.Context, num uint32, at time.Time) error
	// NeedingTraceroute returns the node most in need of probing:
	// never-probed nodes first, then least recently probed. Nodes not
	// heard within maxAge are skipped.
	NeedingTraceroute(ctx context.Context, maxAge time.Duration) (Node, bool, error)
}

type MessageRepository interface {
	Insert(ctx context.Context, m Message) error
	GetByRequestID(ctx context.Context, requestID uint32) (Message, bool, error)
	UpdateDeliveryState(ctx context.Context, id string, state DeliveryState, reason string) error
	MarkRead(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]Message, error)
}

type ChannelRepository interface {
	Upsert(ctx context.Context, c Channel) error
	GetByIndex(ctx context.Context, index int) (Channel, bool, error)
	List(ctx context.Context) ([]Channel, error)
}

type TelemetryRepository interface {
	Insert(ctx context.Context, s TelemetrySample) error
	LatestForType(ctx context.Context, nodeNum uint32, t TelemetryType) (TelemetrySample, bool, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type TracerouteRepository interface {
	Insert(ctx context.Context, t Traceroute) (int64, error)
	InsertSegment(ctx context.Context, s RouteSegment) (int64, error)
	// RecordDistanceKm reports the longest segment distance stored so far.
	RecordDistanceKm(ctx context.Context) (float64, error)
	// SetRecordHolder flags one segment as the record holder and clears
	// the flag everywhere else.
	SetRecordHolder(ctx context.Context, segmentID int64) error
	ListRecent(ctx context.Context, limit int) ([]Traceroute, error)
}

type NeighborRepository interface {
	ReplaceForNode(ctx context.Context, nodeNum uint32, neighbors []Neighbor) error
	ListForNode(ctx context.Context, nodeNum uint32) ([]Neighbor, error)
}

type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type PacketLogRepository interface {
	Insert(ctx context.Context, e PacketLogEntry) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
