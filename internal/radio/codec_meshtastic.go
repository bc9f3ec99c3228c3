package radio

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	generated "github.com/rabarar/meshtastic"
	"google.golang.org/protobuf/proto"
)

// MeshtasticCodec implements Codec for Meshtastic protobuf frames.
type MeshtasticCodec struct {
	wantConfigID atomic.Uint32
	packetID     atomic.Uint32
	localNodeNum atomic.Uint32
}

func NewMeshtasticCodec() (*MeshtasticCodec, error) {
	var seedRaw [4]byte
	if _, err := rand.Read(seedRaw[:]); err != nil {
		return nil, fmt.Errorf("seed meshtastic codec packet id: %w", err)
	}
	seed := binary.BigEndian.Uint32(seedRaw[:])
	c := &MeshtasticCodec{}
	c.packetID.Store(seed)

	return c, nil
}

// LocalNodeNum reports the node number observed in the last MyNodeInfo,
// zero before the init stream delivered one.
func (c *MeshtasticCodec) LocalNodeNum() uint32 {
	return c.localNodeNum.Load()
}

func (c *MeshtasticCodec) EncodeWantConfig() ([]byte, error) {
	id := c.nextNonZeroID()
	wire := &generated.ToRadio{PayloadVariant: &generated.ToRadio_WantConfigId{WantConfigId: id}}
	payload, err := proto.Marshal(wire)
	if err != nil {
		return nil, err
	}
	c.wantConfigID.Store(id)

	return payload, nil
}

func (c *MeshtasticCodec) EncodeHeartbeat() ([]byte, error) {
	wire := &generated.ToRadio{PayloadVariant: &generated.ToRadio_Heartbeat{Heartbeat: &generated.Heartbeat{}}}

	return proto.Marshal(wire)
}

func (c *MeshtasticCodec) EncodeDisconnect() ([]byte, error) {
	wire := &generated.ToRadio{PayloadVariant: &generated.ToRadio_Disconnect{Disconnect: true}}

	return proto.Marshal(wire)
}

func (c *MeshtasticCodec) EncodeText(req TextRequest) (EncodedPacket, error) {
	if req.Text == "" {
		return EncodedPacket{}, fmt.Errorf("text is empty")
	}
	packetID := c.nextNonZeroID()

	data := &generated.Data{
		Portnum: generated.PortNum_TEXT_MESSAGE_APP,
		Payload: []byte(req.Text),
	}
	if req.ReplyID != 0 {
		data.ReplyId = req.ReplyID
	}
	if req.Emoji {
		data.Emoji = 1
	}
	packet := &generated.MeshPacket{
		To:             req.To,
		Channel:        req.Channel,
		Id:             packetID,
		WantAck:        req.To != broadcastNodeNum,
		PayloadVariant: &generated.MeshPacket_Decoded{Decoded: data},
	}
	wire := &generated.ToRadio{PayloadVariant: &generated.ToRadio_Packet{Packet: packet}}
	payload, err := proto.Marshal(wire)
	if err != nil {
		return EncodedPacket{}, err
	}

	return EncodedPacket{
		Payload:   payload,
		RequestID: packetID,
		WantAck:   packet.GetWantAck(),
	}, nil
}

func (c *MeshtasticCodec) EncodeTraceroute(to, channel uint32) (EncodedPacket, error) {
	packetID := c.nextNonZeroID()
	packet := &generated.MeshPacket{
		To:      to,
		Channel: channel,
		Id:      packetID,
		WantAck: true,
		PayloadVariant: &generated.MeshPacket_Decoded{Decoded: &generated.Data{
			Portnum:      generated.PortNum_TRACEROUTE_APP,
			WantResponse: true,
		}},
	}
	wire := &generated.ToRadio{PayloadVariant: &generated.ToRadio_Packet{Packet: packet}}
	encoded, err := proto.Marshal(wire)
	if err != nil {
		return EncodedPacket{}, fmt.Errorf("marshal traceroute packet: %w", err)
	}

	return EncodedPacket{Payload: encoded, RequestID: packetID, WantAck: true}, nil
}

func (c *MeshtasticCodec) EncodeAdmin(
	to uint32,
	channel uint32,
	wantResponse bool,
	payload *generated.AdminMessage,
) (EncodedPacket, error) {
	if payload == nil {
		return EncodedPacket{}, fmt.Errorf("admin payload is required")
	}
	encodedAdmin, err := proto.Marshal(payload)
	if err != nil {
		return EncodedPacket{}, fmt.Errorf("marshal admin payload: %w", err)
	}
	packetID := c.nextNonZeroID()
	packet := &generated.MeshPacket{
		To:       to,
		Channel:  channel,
		Id:       packetID,
		WantAck:  true,
		Priority: generated.MeshPacket_RELIABLE,
		PayloadVariant: &generated.MeshPacket_Decoded{Decoded: &generated.Data{
			Portnum:      generated.PortNum_ADMIN_APP,
			Payload:      encodedAdmin,
			WantResponse: wantResponse,
		}},
	}
	wire := &generated.ToRadio{PayloadVariant: &generated.ToRadio_Packet{Packet: packet}}
	encoded, err := proto.Marshal(wire)
	if err != nil {
		return EncodedPacket{}, fmt.Errorf("marshal admin packet: %w", err)
	}

	return EncodedPacket{Payload: encoded, RequestID: packetID, WantAck: true}, nil
}

func (c *MeshtasticCodec) DecodeFromRadio(payload []byte) (DecodedFrame, error) {
	out := DecodedFrame{Raw: payload}

	var wire generated.FromRadio
	if err := proto.Unmarshal(payload, &wire); err != nil {
		return out, fmt.Errorf("decode fromradio protobuf: %w", err)
	}

	switch variant := wire.GetPayloadVariant().(type) {
	case *generated.FromRadio_MyInfo:
		out.MyInfo = variant.MyInfo
		if num := variant.MyInfo.GetMyNodeNum(); num != 0 {
			c.localNodeNum.Store(num)
		}
	case *generated.FromRadio_Metadata:
		out.Metadata = variant.Metadata
	case *generated.FromRadio_NodeInfo:
		out.NodeInfo = variant.NodeInfo
	case *generated.FromRadio_Channel:
		out.Channel = variant.Channel
	case *generated.FromRadio_Config:
		out.Config = variant.Config
	case *generated.FromRadio_ModuleConfig:
		out.ModuleConfig = variant.ModuleConfig
	case *generated.FromRadio_ConfigCompleteId:
		out.ConfigCompleteID = variant.ConfigCompleteId
		expected := c.wantConfigID.Load()
		if expected != 0 && variant.ConfigCompleteId == expected {
			out.WantConfigReady = true
		}
	case *generated.FromRadio_Packet:
		out.Packet = variant.Packet
	case *generated.FromRadio_QueueStatus:
		out.QueueStatus = variant.QueueStatus
	case *generated.FromRadio_Rebooted:
		out.Rebooted = variant.Rebooted
	}

	return out, nil
}

func (c *MeshtasticCodec) nextNonZeroID() uint32 {
	for {
		id := c.packetID.Add(1)
		if id != 0 {
			return id
		}
	}
}
