package mesh

import (
	"context"
	"encoding/base64"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

// handleChannel persists one channel slot from the init stream.
// A slot is stored iff it carries a name, a PSK, a primary/secondary
// role, or is index 0; empty disabled slots are skipped.
func (m *Manager) handleChannel(ctx context.Context, ch *generated.Channel) {
	index := int(ch.GetIndex())
	settings := ch.GetSettings()

	name := ""
	psk := ""
	var precision *uint32
	uplink := false
	downlink := false
	if settings != nil {
		name = settings.GetName()
		if raw := settings.GetPsk(); len(raw) > 0 {
			psk = base64.StdEncoding.EncodeToString(raw)
		}
		uplink = settings.GetUplinkEnabled()
		downlink = settings.GetDownlinkEnabled()
		if ms := settings.GetModuleSettings(); ms != nil && ms.GetPositionPrecision() > 0 {
			precision = uint32Ptr(ms.GetPositionPrecision())
		}
	}

	hasRole := ch.GetRole() == generated.Channel_PRIMARY || ch.GetRole() == generated.Channel_SECONDARY
	if name == "" && psk == "" && !hasRole && index != 0 {
		return
	}

	channel := domain.Channel{
		Index:             index,
		Name:              name,
		Role:              normalizeChannelRole(index, ch.GetRole()),
		PSK:               psk,
		UplinkEnabled:     uplink,
		DownlinkEnabled:   downlink,
		PositionPrecision: precision,
		UpdatedAt:         m.now(),
	}

	if err := m.store.Channels.Upsert(ctx, channel); err != nil {
		m.logger.Warn("channel upsert failed", "index", index, "error", err)
	}
}

// normalizeChannelRole enforces the structural rule: slot 0 is always
// the primary channel and slots 1..7 never are.
func normalizeChannelRole(index int, role generated.Channel_Role) domain.ChannelRole {
	if index == 0 {
		return domain.ChannelRolePrimary
	}
	switch role {
	case generated.Channel_PRIMARY, generated.Channel_SECONDARY:
		return domain.ChannelRoleSecondary
	default:
		return domain.ChannelRoleDisabled
	}
}
