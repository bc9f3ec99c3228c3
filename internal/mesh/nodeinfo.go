package mesh

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
	"github.com/meshkeeper/meshkeeper/internal/events"
)

// nodeInfoUpdate normalizes the two NodeInfo shapes the radio emits:
// the FromRadio nodeInfo variant during init and the port-4 User
// payload inside a MeshPacket.
type nodeInfoUpdate struct {
	Num        uint32
	LongName   string
	ShortName  string
	HwModel    string
	Role       string
	IsLicensed bool
	PublicKey  []byte

	Position      *generated.Position
	DeviceMetrics *generated.DeviceMetrics

	SNR          *float64
	RSSI         *int
	LastHeard    time.Time
	Channel      *uint32
	ViaMQTT      bool
	HopsAway     *uint32
	IsFavorite   bool
	HasFavorite  bool
	PKIEncrypted bool
	HasPKI       bool
}

func nodeInfoUpdateFromProto(ni *generated.NodeInfo) nodeInfoUpdate {
	u := nodeInfoUpdate{
		Num:           ni.GetNum(),
		Position:      ni.GetPosition(),
		DeviceMetrics: ni.GetDeviceMetrics(),
		ViaMQTT:       ni.GetViaMqtt(),
		IsFavorite:    ni.GetIsFavorite(),
		HasFavorite:   true,
	}
	if user := ni.GetUser(); user != nil {
		u.LongName = user.GetLongName()
		u.ShortName = user.GetShortName()
		u.HwModel = user.GetHwModel().String()
		u.Role = user.GetRole().String()
		u.IsLicensed = user.GetIsLicensed()
		u.PublicKey = user.GetPublicKey()
	}
	if snr := ni.GetSnr(); snr != 0 {
		u.SNR = float64Ptr(float64(snr))
	}
	if lastHeard := ni.GetLastHeard(); lastHeard != 0 {
		u.LastHeard = time.Unix(int64(lastHeard), 0)
	}
	if ch := ni.GetChannel(); ch != 0 {
		u.Channel = uint32Ptr(ch)
	}
	if ni.HopsAway != nil {
		u.HopsAway = uint32Ptr(ni.GetHopsAway())
	}

	return u
}

// handleNodeInfoUpdate applies one NodeInfo to the store and, when the
// node is new or newly named, consults the auto-welcome engine.
func (m *Manager) handleNodeInfoUpdate(ctx context.Context, u nodeInfoUpdate) {
	if u.Num == 0 {
		return
	}
	now := m.now()
	nodeID := domain.FormatNodeNum(u.Num)

	node, exists, err := m.store.Nodes.Get(ctx, u.Num)
	if err != nil {
		m.logger.Warn("node lookup failed", "node_id", nodeID, "error", err)
		exists = false
	}
	if !exists {
		node = domain.Node{
			Num:          u.Num,
			NodeID:       nodeID,
			LongName:     domain.PlaceholderLongName(u.Num),
			FirstHeardAt: now,
		}
	}
	node.NodeID = nodeID

	if long := strings.TrimSpace(u.LongName); long != "" {
		node.LongName = long
	}
	if short := strings.TrimSpace(u.ShortName); short != "" {
		node.ShortName = short
	}
	if u.HwModel != "" {
		node.HwModel = u.HwModel
	}
	if u.Role != "" {
		node.Role = u.Role
	}
	node.IsLicensed = u.IsLicensed

	// Never accept a future timestamp from the mesh.
	lastHeard := u.LastHeard
	if lastHeard.IsZero() || lastHeard.After(now) {
		lastHeard = now
	}
	node.LastHeardAt = lastHeard
	node.UpdatedAt = now

	if len(u.PublicKey) > 0 {
		b64 := base64.StdEncoding.EncodeToString(u.PublicKey)
		node.PublicKey = b64
		node.HasLowEntropyKey = IsLowEntropyKey(b64)
		if node.HasLowEntropyKey {
			m.logger.Warn("node presents known low-entropy public key", "node_id", nodeID)
		}
	}
	if u.HasFavorite {
		// Firmware is authoritative for favorites.
		node.IsFavorite = u.IsFavorite
	}
	if u.HasPKI {
		node.PKIEncrypted = u.PKIEncrypted
	}
	if u.SNR != nil {
		node.SNR = u.SNR
	}
	if u.RSSI != nil {
		node.RSSI = u.RSSI
	}
	if u.Channel != nil {
		node.Channel = u.Channel
	}
	node.ViaMQTT = u.ViaMQTT
	if u.HopsAway != nil {
		node.HopsAway = u.HopsAway
	}

	if u.Position != nil {
		m.applyPositionToNode(ctx, &node, u.Position, now)
	}
	if u.DeviceMetrics != nil {
		m.applyDeviceMetrics(ctx, &node, u.DeviceMetrics, now)
	}

	if u.Num == m.state.LocalNum() {
		m.state.AdoptNames(u.LongName, u.ShortName, u.HwModel)
	}

	if err := m.store.Nodes.Upsert(ctx, node); err != nil {
		m.logger.Warn("node upsert failed", "node_id", nodeID, "error", err)

		return
	}
	m.publish(events.TopicNodeUpdated, events.NodeUpdated{Node: node})

	m.autoWelcome.Consider(ctx, node)
}

// applyDeviceMetrics copies device metrics onto the node row and
// appends the typed telemetry samples.
func (m *Manager) applyDeviceMetrics(ctx context.Context, node *domain.Node, dm *generated.DeviceMetrics, now time.Time) {
	insert := func(t domain.TelemetryType, value float64) {
		sample := domain.TelemetrySample{NodeNum: node.Num, Type: t, Value: value, At: now}
		if err := m.store.Telemetry.Insert(ctx, sample); err != nil {
			m.logger.Debug("telemetry insert failed", "type", t, "error", err)
		}
	}

	if dm.BatteryLevel != nil {
		node.BatteryLevel = uint32Ptr(dm.GetBatteryLevel())
		insert(domain.TelemetryBattery, float64(dm.GetBatteryLevel()))
	}
	if dm.Voltage != nil {
		node.Voltage = float64Ptr(float64(dm.GetVoltage()))
		insert(domain.TelemetryVoltage, float64(dm.GetVoltage()))
	}
	if dm.ChannelUtilization != nil {
		node.ChannelUtil = float64Ptr(float64(dm.GetChannelUtilization()))
		insert(domain.TelemetryChannelUtil, float64(dm.GetChannelUtilization()))
	}
	if dm.AirUtilTx != nil {
		node.AirUtilTx = float64Ptr(float64(dm.GetAirUtilTx()))
		insert(domain.TelemetryAirUtilTx, float64(dm.GetAirUtilTx()))
	}
	if dm.UptimeSeconds != nil {
		node.UptimeSeconds = uint32Ptr(dm.GetUptimeSeconds())
	}
}
