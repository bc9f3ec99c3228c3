package domain

import "time"

// BroadcastNodeNum is the destination sentinel for channel broadcasts.
const BroadcastNodeNum = ^uint32(0)

// DMChannel marks a direct message in stored message rows.
const DMChannel = -1

type MessageKind int

const (
	MessageKindText MessageKind = iota + 1
	MessageKindTraceroute
)

type MessageDirection int

const (
	MessageDirectionIn MessageDirection = iota + 1
	MessageDirectionOut
)

// DeliveryState tracks an outbound message through the mesh. The zero
// value means the message carries no delivery tracking.
type DeliveryState int

const (
	DeliveryPending DeliveryState = iota + 1
	DeliveryDelivered
	DeliveryConfirmed
	DeliveryFailed
)

func (s DeliveryState) Terminal() bool {
	return s == DeliveryConfirmed || s == DeliveryFailed
}

func (s DeliveryState) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryConfirmed:
		return "confirmed"
	case DeliveryFailed:
		return "failed"
	default:
		return "none"
	}
}

type ChannelRole int

const (
	ChannelRoleDisabled ChannelRole = iota
	ChannelRolePrimary
	ChannelRoleSecondary
)

type Node struct {
	Num               uint32
	NodeID            string
	LongName          string
	ShortName         string
	HwModel           string
	Role              string
	Channel           *uint32
	SNR               *float64
	RSSI              *int
	BatteryLevel      *uint32
	Voltage           *float64
	ChannelUtil       *float64
	AirUtilTx         *float64
	UptimeSeconds     *uint32
	Latitude          *float64
	Longitude         *float64
	Altitude          *int32
	PositionPrecision *uint32
	PositionTime      *time.Time
	HopsAway          *uint32
	ViaMQTT           bool
	IsFavorite        bool
	IsLicensed        bool
	IsMobile          bool
	PublicKey         string
	HasLowEntropyKey  bool
	PKIEncrypted      bool
	WelcomedAt        *time.Time
	LastTracerouteAt  *time.Time
	FirstHeardAt      time.Time
	LastHeardAt       time.Time
	UpdatedAt         time.Time
}

type Message struct {
	ID            string
	Kind          MessageKind
	Direction     MessageDirection
	FromNum       uint32
	ToNum         uint32
	Channel       int
	Text          string
	RequestID     uint32
	ReplyID       uint32
	Emoji         bool
	HopStart      uint32
	HopLimit      uint32
	SNR           *float64
	RSSI          *int
	WantAck       bool
	DeliveryState DeliveryState
	FailureReason string
	Read          bool
	ViaMQTT       bool
	RxTime        time.Time
	CreatedAt     time.Time
}

// MessageID builds the canonical message row key.
func MessageID(fromNum, packetID uint32) string {
	return FormatNodeNum(fromNum) + "_" + formatUint(packetID)
}

type Channel struct {
	Index             int
	Name              string
	Role              ChannelRole
	PSK               string
	UplinkEnabled     bool
	DownlinkEnabled   bool
	PositionPrecision *uint32
	UpdatedAt         time.Time
}

// TelemetrySample is one scalar measurement attributed to a node.
type TelemetrySample struct {
	ID      int64
	NodeNum uint32
	Type    TelemetryType
	Value   float64
	At      time.Time
}

type TelemetryType string

const (
	TelemetryBattery      TelemetryType = "batteryLevel"
	TelemetryVoltage      TelemetryType = "voltage"
	TelemetryChannelUtil  TelemetryType = "channelUtilization"
	TelemetryAirUtilTx    TelemetryType = "airUtilTx"
	TelemetryUptime       TelemetryType = "uptimeSeconds"
	TelemetryTemperature  TelemetryType = "temperature"
	TelemetryHumidity     TelemetryType = "humidity"
	TelemetryPressure     TelemetryType = "pressure"
	TelemetryLatitude     TelemetryType = "latitude"
	TelemetryLongitude    TelemetryType = "longitude"
	TelemetryAltitude     TelemetryType = "altitude"
	TelemetryEstLatitude  TelemetryType = "estimatedLatitude"
	TelemetryEstLongitude TelemetryType = "estimatedLongitude"
	TelemetrySNR          TelemetryType = "snr"
	TelemetryRSSI         TelemetryType = "rssi"
)

// PowerChannelVoltage names the per-channel power telemetry row, channel 1..8.
func PowerChannelVoltage(ch int) TelemetryType {
	return TelemetryType("ch" + formatUint(uint32(ch)) + "Voltage")
}

func PowerChannelCurrent(ch int) TelemetryType {
	return TelemetryType("ch" + formatUint(uint32(ch)) + "Current")
}

type Traceroute struct {
	ID         int64
	FromNum    uint32
	ToNum      uint32
	PacketID   uint32
	RequestID  uint32
	Route      []uint32
	SNRTowards []float64
	RouteBack  []uint32
	SNRBack    []float64
	IsComplete bool
	CreatedAt  time.Time
}

type RouteSegment struct {
	ID             int64
	TracerouteID   int64
	FromNum        uint32
	ToNum          uint32
	DistanceKm     *float64
	SNR            *float64
	IsRecordHolder bool
	CreatedAt      time.Time
}

type Neighbor struct {
	NodeNum     uint32
	NeighborNum uint32
	SNR         float64
	At          time.Time
}

type PacketLogEntry struct {
	ID             int64
	FromNum        uint32
	ToNum          uint32
	Channel        uint32
	PortNum        string
	PacketID       uint32
	RequestID      uint32
	SNR            *float64
	RSSI           *int
	HopStart       uint32
	HopLimit       uint32
	PayloadPreview string
	ViaMQTT        bool
	At             time.Time
}
