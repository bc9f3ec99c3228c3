package radio

import (
	generated "github.com/rabarar/meshtastic"
)

const broadcastNodeNum = ^uint32(0)

// DecodedFrame is one parsed inbound FromRadio message. Exactly one of
// the variant fields is populated for a well-formed frame; Raw always
// holds the unframed protobuf bytes for capture and fan-out.
type DecodedFrame struct {
	Raw []byte

	MyInfo           *generated.MyNodeInfo
	Metadata         *generated.DeviceMetadata
	NodeInfo         *generated.NodeInfo
	Channel          *generated.Channel
	Config           *generated.Config
	ModuleConfig     *generated.ModuleConfig
	Packet           *generated.MeshPacket
	QueueStatus      *generated.QueueStatus
	Rebooted         bool
	ConfigCompleteID uint32
	// WantConfigReady is set when ConfigCompleteID matches the id sent
	// by the most recent EncodeWantConfig.
	WantConfigReady bool
}

// EncodedPacket is an outbound frame with its correlation id.
type EncodedPacket struct {
	Payload   []byte
	RequestID uint32
	WantAck   bool
}

// TextRequest describes one outbound text packet.
type TextRequest struct {
	To      uint32
	Channel uint32
	Text    string
	ReplyID uint32
	Emoji   bool
}

// Codec translates between transport frame payloads and protocol
// messages.
type Codec interface {
	EncodeWantConfig() ([]byte, error)
	EncodeHeartbeat() ([]byte, error)
	EncodeDisconnect() ([]byte, error)
	EncodeText(req TextRequest) (EncodedPacket, error)
	EncodeTraceroute(to, channel uint32) (EncodedPacket, error)
	EncodeAdmin(to, channel uint32, wantResponse bool, payload *generated.AdminMessage) (EncodedPacket, error)
	DecodeFromRadio(payload []byte) (DecodedFrame, error)
}
