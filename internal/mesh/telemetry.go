package mesh

import (
	"context"
	"fmt"
	"time"

	generated "github.com/rabarar/meshtastic"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

// signalSampleMinGap spaces out SNR/RSSI telemetry rows: an unchanged
// reading is re-recorded at most once per gap.
const signalSampleMinGap = 10 * time.Minute

// handleTelemetry stores port-67 telemetry samples and mirrors device
// metrics onto the sender's node row.
func (m *Manager) handleTelemetry(ctx context.Context, pkt *generated.MeshPacket, payload []byte) {
	var telemetry generated.Telemetry
	if err := protoUnmarshal(payload, &telemetry); err != nil {
		m.logger.Warn("decode telemetry payload failed", "error", err)

		return
	}
	now := m.now()
	fromNum := pkt.GetFrom()

	switch {
	case telemetry.GetDeviceMetrics() != nil:
		m.recordDeviceMetrics(ctx, fromNum, telemetry.GetDeviceMetrics(), now)
	case telemetry.GetEnvironmentMetrics() != nil:
		m.recordEnvironmentMetrics(ctx, fromNum, telemetry.GetEnvironmentMetrics(), now)
	case telemetry.GetPowerMetrics() != nil:
		m.recordPowerMetrics(ctx, fromNum, telemetry.GetPowerMetrics(), now)
	}

	m.recordSignalSamples(ctx, pkt, now)
}

func (m *Manager) recordDeviceMetrics(ctx context.Context, fromNum uint32, dm *generated.DeviceMetrics, now time.Time) {
	node, ok, err := m.store.Nodes.Get(ctx, fromNum)
	if err != nil || !ok {
		return
	}
	m.applyDeviceMetrics(ctx, &node, dm, now)
	node.UpdatedAt = now
	if err := m.store.Nodes.Upsert(ctx, node); err != nil {
		m.logger.Warn("node metrics upsert failed", "node_id", node.NodeID, "error", err)
	}
	if dm.UptimeSeconds != nil {
		m.insertTelemetry(ctx, fromNum, domain.TelemetryUptime, float64(dm.GetUptimeSeconds()), now)
	}
}

func (m *Manager) recordEnvironmentMetrics(ctx context.Context, fromNum uint32, em *generated.EnvironmentMetrics, now time.Time) {
	if em.Temperature != nil {
		m.insertTelemetry(ctx, fromNum, domain.TelemetryTemperature, float64(em.GetTemperature()), now)
	}
	if em.RelativeHumidity != nil {
		m.insertTelemetry(ctx, fromNum, domain.TelemetryHumidity, float64(em.GetRelativeHumidity()), now)
	}
	if em.BarometricPressure != nil {
		m.insertTelemetry(ctx, fromNum, domain.TelemetryPressure, float64(em.GetBarometricPressure()), now)
	}
}

// recordPowerMetrics walks the per-channel voltage/current fields by
// name through reflection, which keeps the loop over channels 1..8
// independent of which channels the generated message actually defines.
func (m *Manager) recordPowerMetrics(ctx context.Context, fromNum uint32, pm *generated.PowerMetrics, now time.Time) {
	msg := pm.ProtoReflect()
	fields := msg.Descriptor().Fields()
	for ch := 1; ch <= 8; ch++ {
		if fd := fields.ByName(protoreflect.Name(fmt.Sprintf("ch%d_voltage", ch))); fd != nil && msg.Has(fd) {
			m.insertTelemetry(ctx, fromNum, domain.PowerChannelVoltage(ch), msg.Get(fd).Float(), now)
		}
		if fd := fields.ByName(protoreflect.Name(fmt.Sprintf("ch%d_current", ch))); fd != nil && msg.Has(fd) {
			m.insertTelemetry(ctx, fromNum, domain.PowerChannelCurrent(ch), msg.Get(fd).Float(), now)
		}
	}
}

// recordSignalSamples appends SNR and RSSI rows when the value changed
// or the last sample is older than the minimum gap.
func (m *Manager) recordSignalSamples(ctx context.Context, pkt *generated.MeshPacket, now time.Time) {
	fromNum := pkt.GetFrom()
	if snr := pkt.GetRxSnr(); snr != 0 {
		m.insertSignalSample(ctx, fromNum, domain.TelemetrySNR, float64(snr), now)
	}
	if rssi := pkt.GetRxRssi(); rssi != 0 {
		m.insertSignalSample(ctx, fromNum, domain.TelemetryRSSI, float64(rssi), now)
	}
}

func (m *Manager) insertSignalSample(ctx context.Context, fromNum uint32, t domain.TelemetryType, value float64, now time.Time) {
	last, ok, err := m.store.Telemetry.LatestForType(ctx, fromNum, t)
	if err == nil && ok && last.Value == value && now.Sub(last.At) < signalSampleMinGap {
		return
	}
	m.insertTelemetry(ctx, fromNum, t, value, now)
}
