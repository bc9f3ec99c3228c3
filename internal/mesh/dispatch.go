package mesh

import (
	"context"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
	"github.com/meshkeeper/meshkeeper/internal/events"
	"github.com/meshkeeper/meshkeeper/internal/radio"
)

// HandleFrame is the inbound pipeline entry point. Frames are processed
// in arrival order; every per-frame error is caught and logged so the
// reader loop never dies.
func (m *Manager) HandleFrame(ctx context.Context, payload []byte) {
	if m.capture.Capturing() {
		m.capture.Append(payload)
	}
	if b := m.currentBroadcaster(); b != nil {
		b.BroadcastFrame(payload)
	}

	decoded, err := m.codec.DecodeFromRadio(payload)
	if err != nil {
		m.logger.Warn("decode fromradio failed", "len", len(payload), "error", err)

		return
	}
	m.dispatch(ctx, decoded)
}

func (m *Manager) dispatch(ctx context.Context, frame radio.DecodedFrame) {
	switch {
	case frame.MyInfo != nil:
		m.handleMyInfo(ctx, frame.MyInfo)
	case frame.NodeInfo != nil:
		m.handleNodeInfoUpdate(ctx, nodeInfoUpdateFromProto(frame.NodeInfo))
	case frame.Metadata != nil:
		m.state.ProcessMetadata(frame.Metadata)
	case frame.Config != nil:
		m.state.MergeConfig(frame.Config)
	case frame.ModuleConfig != nil:
		m.state.MergeModuleConfig(frame.ModuleConfig)
	case frame.Channel != nil:
		m.handleChannel(ctx, frame.Channel)
	case frame.ConfigCompleteID != 0:
		m.handleConfigComplete(frame.ConfigCompleteID)
	case frame.Packet != nil:
		m.handleMeshPacket(ctx, frame.Packet)
	case frame.Rebooted:
		m.logger.Info("device reports reboot")
	}
}

func (m *Manager) handleMyInfo(ctx context.Context, mi *generated.MyNodeInfo) {
	num := mi.GetMyNodeNum()
	if num == 0 {
		return
	}

	var stored *domain.Node
	if existing, ok, err := m.store.Nodes.Get(ctx, num); err == nil && ok {
		stored = &existing
	}
	m.state.ProcessMyNodeInfo(mi, stored)

	local, _ := m.state.Local()
	if err := m.settings.Set(ctx, SettingLocalNodeNum, formatUint32(local.Num)); err != nil {
		m.logger.Warn("persist local node num failed", "error", err)
	}
	if err := m.settings.Set(ctx, SettingLocalNodeID, local.ID); err != nil {
		m.logger.Warn("persist local node id failed", "error", err)
	}
	m.logger.Info("local node identified", "node_id", local.ID, "locked", local.IsLocked)
}

func (m *Manager) handleConfigComplete(completeID uint32) {
	m.capture.Freeze()

	m.mu.Lock()
	callback := m.onCaptureComplete
	m.onCaptureComplete = nil
	m.mu.Unlock()

	m.logger.Info("device config stream complete", "config_id", completeID,
		"captured_frames", len(m.capture.Snapshot()))
	if callback != nil {
		callback()
	}
	m.publish(events.TopicConfigCaptured, events.ConfigCaptured{FrameCount: len(m.capture.Snapshot())})
}
