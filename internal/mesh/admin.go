package mesh

import (
	"context"
	"fmt"
	"strings"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

// allModuleConfigTypes is every module config section the firmware can
// report, requested in order during the init sweep.
var allModuleConfigTypes = []generated.AdminMessage_ModuleConfigType{
	generated.AdminMessage_MQTT_CONFIG,
	generated.AdminMessage_SERIAL_CONFIG,
	generated.AdminMessage_EXTNOTIF_CONFIG,
	generated.AdminMessage_STOREFORWARD_CONFIG,
	generated.AdminMessage_RANGETEST_CONFIG,
	generated.AdminMessage_TELEMETRY_CONFIG,
	generated.AdminMessage_CANNEDMSG_CONFIG,
	generated.AdminMessage_AUDIO_CONFIG,
	generated.AdminMessage_REMOTEHARDWARE_CONFIG,
	generated.AdminMessage_NEIGHBORINFO_CONFIG,
	generated.AdminMessage_AMBIENTLIGHTING_CONFIG,
	generated.AdminMessage_DETECTIONSENSOR_CONFIG,
	generated.AdminMessage_PAXCOUNTER_CONFIG,
}

// sendAdmin wraps an admin message in a mesh packet to the given node.
func (m *Manager) sendAdmin(ctx context.Context, to uint32, admin *generated.AdminMessage, wantResponse bool) error {
	if !m.Connected() {
		return ErrNotConnected
	}
	encoded, err := m.codec.EncodeAdmin(to, 0, wantResponse, admin)
	if err != nil {
		return fmt.Errorf("encode admin message: %w", err)
	}
	if err := m.session.Send(ctx, encoded.Payload); err != nil {
		return fmt.Errorf("send admin message: %w", err)
	}

	return nil
}

// sendLocalAdmin sends a mutating admin message to our own radio. The
// firmware accepts admin writes over the local TCP link without a
// session passkey; administering a remote node would need
// RequestSessionPasskey first.
func (m *Manager) sendLocalAdmin(ctx context.Context, admin *generated.AdminMessage) error {
	local, ok := m.Local()
	if !ok {
		return ErrNoLocalNode
	}

	return m.sendAdmin(ctx, local.Num, admin, false)
}

// SetFavoriteNode marks a node as favorite on the radio and mirrors the
// flag locally. Refused on firmware that cannot persist favorites.
func (m *Manager) SetFavoriteNode(ctx context.Context, num uint32) error {
	return m.setFavorite(ctx, num, true)
}

func (m *Manager) RemoveFavoriteNode(ctx context.Context, num uint32) error {
	return m.setFavorite(ctx, num, false)
}

func (m *Manager) setFavorite(ctx context.Context, num uint32, favorite bool) error {
	if !m.state.SupportsFavorites() {
		local, _ := m.Local()

		return &FirmwareUnsupportedError{Capability: "favorite nodes", Firmware: local.FirmwareVersion}
	}

	admin := &generated.AdminMessage{}
	if favorite {
		admin.PayloadVariant = &generated.AdminMessage_SetFavoriteNode{SetFavoriteNode: num}
	} else {
		admin.PayloadVariant = &generated.AdminMessage_RemoveFavoriteNode{RemoveFavoriteNode: num}
	}
	if err := m.sendLocalAdmin(ctx, admin); err != nil {
		return err
	}

	node, ok, err := m.store.Nodes.Get(ctx, num)
	if err == nil && ok {
		node.IsFavorite = favorite
		node.UpdatedAt = m.now()
		if err := m.store.Nodes.Upsert(ctx, node); err != nil {
			m.logger.Warn("favorite flag upsert failed", "node_id", node.NodeID, "error", err)
		}
	}
	m.logger.Info("favorite updated", "node_id", domain.FormatNodeNum(num), "favorite", favorite)

	return nil
}

// SetOwner renames the local node.
func (m *Manager) SetOwner(ctx context.Context, longName, shortName string) error {
	longName = strings.TrimSpace(longName)
	if longName == "" {
		return fmt.Errorf("long name is empty")
	}

	return m.sendLocalAdmin(ctx, &generated.AdminMessage{
		PayloadVariant: &generated.AdminMessage_SetOwner{
			SetOwner: &generated.User{
				LongName:  longName,
				ShortName: strings.TrimSpace(shortName),
			},
		},
	})
}

func (m *Manager) SetDeviceConfig(ctx context.Context, cfg *generated.Config_DeviceConfig) error {
	return m.setConfig(ctx, &generated.Config{
		PayloadVariant: &generated.Config_Device{Device: cfg},
	})
}

func (m *Manager) SetLoraConfig(ctx context.Context, cfg *generated.Config_LoRaConfig) error {
	return m.setConfig(ctx, &generated.Config{
		PayloadVariant: &generated.Config_Lora{Lora: cfg},
	})
}

func (m *Manager) SetPositionConfig(ctx context.Context, cfg *generated.Config_PositionConfig) error {
	return m.setConfig(ctx, &generated.Config{
		PayloadVariant: &generated.Config_Position{Position: cfg},
	})
}

func (m *Manager) setConfig(ctx context.Context, cfg *generated.Config) error {
	return m.sendLocalAdmin(ctx, &generated.AdminMessage{
		PayloadVariant: &generated.AdminMessage_SetConfig{SetConfig: cfg},
	})
}

func (m *Manager) SetMQTTConfig(ctx context.Context, cfg *generated.ModuleConfig_MQTTConfig) error {
	return m.setModuleConfig(ctx, &generated.ModuleConfig{
		PayloadVariant: &generated.ModuleConfig_Mqtt{Mqtt: cfg},
	})
}

func (m *Manager) SetNeighborInfoConfig(ctx context.Context, cfg *generated.ModuleConfig_NeighborInfoConfig) error {
	return m.setModuleConfig(ctx, &generated.ModuleConfig{
		PayloadVariant: &generated.ModuleConfig_NeighborInfo{NeighborInfo: cfg},
	})
}

func (m *Manager) setModuleConfig(ctx context.Context, cfg *generated.ModuleConfig) error {
	return m.sendLocalAdmin(ctx, &generated.AdminMessage{
		PayloadVariant: &generated.AdminMessage_SetModuleConfig{SetModuleConfig: cfg},
	})
}

// SetChannel writes one channel slot on the radio.
func (m *Manager) SetChannel(ctx context.Context, ch *generated.Channel) error {
	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	return m.sendLocalAdmin(ctx, &generated.AdminMessage{
		PayloadVariant: &generated.AdminMessage_SetChannel{SetChannel: ch},
	})
}

// SetFixedPosition pins the local node to the given coordinates.
func (m *Manager) SetFixedPosition(ctx context.Context, lat, lon float64, altitude int32) error {
	if !validCoordinates(lat, lon) {
		return fmt.Errorf("invalid coordinates %f,%f", lat, lon)
	}

	return m.sendLocalAdmin(ctx, &generated.AdminMessage{
		PayloadVariant: &generated.AdminMessage_SetFixedPosition{
			SetFixedPosition: &generated.Position{
				LatitudeI:  int32Ptr(int32(lat / coordScale)),
				LongitudeI: int32Ptr(int32(lon / coordScale)),
				Altitude:   int32Ptr(altitude),
			},
		},
	})
}

// Reboot asks the radio to restart after the given delay.
func (m *Manager) Reboot(ctx context.Context, seconds int32) error {
	if seconds < 0 {
		seconds = 0
	}

	return m.sendLocalAdmin(ctx, &generated.AdminMessage{
		PayloadVariant: &generated.AdminMessage_RebootSeconds{RebootSeconds: seconds},
	})
}

// BeginEditSettings opens an atomic settings transaction on the radio.
func (m *Manager) BeginEditSettings(ctx context.Context) error {
	return m.sendLocalAdmin(ctx, &generated.AdminMessage{
		PayloadVariant: &generated.AdminMessage_BeginEditSettings{BeginEditSettings: true},
	})
}

func (m *Manager) CommitEditSettings(ctx context.Context) error {
	return m.sendLocalAdmin(ctx, &generated.AdminMessage{
		PayloadVariant: &generated.AdminMessage_CommitEditSettings{CommitEditSettings: true},
	})
}

// RequestLoraConfig asks the radio for its LoRa section; the response
// lands in the merged device config through the admin handler.
func (m *Manager) RequestLoraConfig(ctx context.Context) error {
	local, ok := m.Local()
	if !ok {
		return ErrNoLocalNode
	}

	return m.sendAdmin(ctx, local.Num, &generated.AdminMessage{
		PayloadVariant: &generated.AdminMessage_GetConfigRequest{
			GetConfigRequest: generated.AdminMessage_LORA_CONFIG,
		},
	}, true)
}

// RequestAllModuleConfigs sweeps every module config section, paced so
// the radio's admin queue is not flooded.
func (m *Manager) RequestAllModuleConfigs(ctx context.Context) error {
	local, ok := m.Local()
	if !ok {
		return ErrNoLocalNode
	}

	for i, t := range allModuleConfigTypes {
		if i > 0 {
			m.clock.Sleep(moduleConfigRequestPace)
		}
		err := m.sendAdmin(ctx, local.Num, &generated.AdminMessage{
			PayloadVariant: &generated.AdminMessage_GetModuleConfigRequest{
				GetModuleConfigRequest: t,
			},
		}, true)
		if err != nil {
			return fmt.Errorf("request module config %s: %w", t.String(), err)
		}
	}

	return nil
}

func int32Ptr(v int32) *int32 {
	return &v
}
