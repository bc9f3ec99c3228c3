package events

import (
	"time"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

// ConnectionState describes the radio session lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnectionStatus is a bus event snapshot of current session status.
type ConnectionStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// InboundMessage is published for every stored inbound message.
type InboundMessage struct {
	Message    domain.Message
	SenderName string
	ChatKey    string
}

// DeliveryUpdate reports an outbound message advancing through the
// delivery state machine.
type DeliveryUpdate struct {
	MessageID string
	RequestID uint32
	State     domain.DeliveryState
	Reason    string
}

// TracerouteResult carries a completed traceroute with its rendered
// summary.
type TracerouteResult struct {
	Record       domain.Traceroute
	TargetNodeID string
	Summary      string
}

// NodeUpdated is published after a node row changes in the store.
type NodeUpdated struct {
	Node domain.Node
}

// ConfigCaptured fires when the init capture buffer freezes.
type ConfigCaptured struct {
	FrameCount int
}

// RawFrame carries frame diagnostics for debug/log views.
type RawFrame struct {
	Hex string
	Len int
}
