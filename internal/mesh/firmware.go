package mesh

import (
	"fmt"
	"strconv"
	"strings"
)

// FirmwareVersion is the parsed "<major>.<minor>.<patch>[.<suffix>]"
// device firmware string.
type FirmwareVersion struct {
	Major  int
	Minor  int
	Patch  int
	Suffix string
}

func ParseFirmwareVersion(raw string) (FirmwareVersion, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return FirmwareVersion{}, fmt.Errorf("firmware version is empty")
	}
	parts := strings.SplitN(raw, ".", 4)
	if len(parts) < 3 {
		return FirmwareVersion{}, fmt.Errorf("malformed firmware version: %q", raw)
	}

	var v FirmwareVersion
	var err error
	if v.Major, err = strconv.Atoi(parts[0]); err != nil {
		return FirmwareVersion{}, fmt.Errorf("firmware major %q: %w", parts[0], err)
	}
	if v.Minor, err = strconv.Atoi(parts[1]); err != nil {
		return FirmwareVersion{}, fmt.Errorf("firmware minor %q: %w", parts[1], err)
	}
	// Patch may carry a trailing tag like "11-alpha".
	patchRaw := parts[2]
	if idx := strings.IndexFunc(patchRaw, func(r rune) bool { return r < '0' || r > '9' }); idx >= 0 {
		patchRaw = patchRaw[:idx]
	}
	if v.Patch, err = strconv.Atoi(patchRaw); err != nil {
		return FirmwareVersion{}, fmt.Errorf("firmware patch %q: %w", parts[2], err)
	}
	if len(parts) == 4 {
		v.Suffix = parts[3]
	}

	return v, nil
}

// SupportsFavorites reports whether the firmware handles favorite-node
// admin messages, added in 2.7.0.
func (v FirmwareVersion) SupportsFavorites() bool {
	if v.Major > 2 {
		return true
	}

	return v.Major == 2 && v.Minor >= 7
}
