package mesh

import (
	"context"
	"time"

	generated "github.com/rabarar/meshtastic"
)

// The firmware hands out admin session passkeys valid for 300 seconds;
// we renew slightly early to stay clear of the edge.
const sessionPasskeyLifetime = 290 * time.Second

const sessionPasskeyTimeout = 3 * time.Second

// handleAdminPacket processes inbound port-6 admin traffic: config
// responses feed the merged device state, and every passkey-bearing
// response refreshes the cached admin session key.
func (m *Manager) handleAdminPacket(ctx context.Context, pkt *generated.MeshPacket, payload []byte) {
	var admin generated.AdminMessage
	if err := protoUnmarshal(payload, &admin); err != nil {
		m.logger.Warn("decode admin payload failed", "error", err)

		return
	}

	if key := admin.GetSessionPasskey(); len(key) > 0 {
		m.storeSessionPasskey(key)
	}

	switch v := admin.GetPayloadVariant().(type) {
	case *generated.AdminMessage_GetConfigResponse:
		m.state.MergeConfig(v.GetConfigResponse)
	case *generated.AdminMessage_GetModuleConfigResponse:
		m.state.MergeModuleConfig(v.GetModuleConfigResponse)
	default:
		m.logger.Debug("admin response", "from", formatUint32(pkt.GetFrom()))
	}
}

func (m *Manager) storeSessionPasskey(key []byte) {
	m.mu.Lock()
	m.sessionPasskey = append([]byte(nil), key...)
	m.passkeyExpiry = m.now().Add(sessionPasskeyLifetime)
	if m.passkeyWait != nil {
		close(m.passkeyWait)
		m.passkeyWait = nil
	}
	m.mu.Unlock()

	m.logger.Debug("admin session passkey refreshed")
}

// sessionPasskeyLocked returns the cached key when still valid. Caller
// holds m.mu.
func (m *Manager) validPasskeyLocked() ([]byte, bool) {
	if len(m.sessionPasskey) == 0 || m.now().After(m.passkeyExpiry) {
		return nil, false
	}

	return m.sessionPasskey, true
}

// RequestSessionPasskey returns a currently valid admin session
// passkey, requesting a fresh one from the radio when the cache is
// stale. The fetch is a session-key get_config round trip; we block
// until the response lands or the timeout passes.
func (m *Manager) RequestSessionPasskey(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	if key, ok := m.validPasskeyLocked(); ok {
		m.mu.Unlock()

		return key, nil
	}
	if m.passkeyWait == nil {
		m.passkeyWait = make(chan struct{})
	}
	wait := m.passkeyWait
	m.mu.Unlock()

	local, ok := m.Local()
	if !ok {
		return nil, ErrNoLocalNode
	}
	admin := &generated.AdminMessage{
		PayloadVariant: &generated.AdminMessage_GetConfigRequest{
			GetConfigRequest: generated.AdminMessage_SESSIONKEY_CONFIG,
		},
	}
	if err := m.sendAdmin(ctx, local.Num, admin, true); err != nil {
		return nil, err
	}

	timer := m.clock.Timer(sessionPasskeyTimeout)
	defer timer.Stop()
	select {
	case <-wait:
	case <-timer.C:
		return nil, &SessionKeyError{Reason: "timed out waiting for session passkey"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.validPasskeyLocked()
	if !ok {
		return nil, &SessionKeyError{Reason: "session passkey response empty"}
	}

	return key, nil
}
