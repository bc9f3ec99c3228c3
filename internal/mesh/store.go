package mesh

import "github.com/meshkeeper/meshkeeper/internal/domain"

// Store bundles the narrow persistence interfaces the manager calls.
type Store struct {
	Nodes       domain.NodeRepository
	Messages    domain.MessageRepository
	Channels    domain.ChannelRepository
	Telemetry   domain.TelemetryRepository
	Traceroutes domain.TracerouteRepository
	Neighbors   domain.NeighborRepository
	Settings    domain.SettingsRepository
	PacketLog   domain.PacketLogRepository
}
