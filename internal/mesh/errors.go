package mesh

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by outbound operations without an active
// radio session.
var ErrNotConnected = errors.New("radio is not connected")

// ErrNoLocalNode is returned when an operation needs the local node
// before the init stream delivered MyNodeInfo.
var ErrNoLocalNode = errors.New("local node is not known yet")

// FirmwareUnsupportedError reports a capability-gated operation refused
// for the connected firmware.
type FirmwareUnsupportedError struct {
	Capability string
	Firmware   string
}

func (e *FirmwareUnsupportedError) Error() string {
	return fmt.Sprintf("firmware %q does not support %s", e.Firmware, e.Capability)
}

// SessionKeyError reports a failed or timed-out session passkey
// exchange with the device.
type SessionKeyError struct {
	Reason string
}

func (e *SessionKeyError) Error() string {
	return "session passkey unavailable: " + e.Reason
}
