package mesh

import (
	"context"
	"errors"
	"testing"
)

func TestParseFirmwareVersion(t *testing.T) {
	cases := []struct {
		raw     string
		want    FirmwareVersion
		wantErr bool
	}{
		{"2.7.3", FirmwareVersion{Major: 2, Minor: 7, Patch: 3}, false},
		{"2.7.11.fedcba9", FirmwareVersion{Major: 2, Minor: 7, Patch: 11, Suffix: "fedcba9"}, false},
		{"2.6.0-beta", FirmwareVersion{Major: 2, Minor: 6, Patch: 0}, false},
		{"3.0.1", FirmwareVersion{Major: 3, Minor: 0, Patch: 1}, false},
		{"", FirmwareVersion{}, true},
		{"2.7", FirmwareVersion{}, true},
		{"x.y.z", FirmwareVersion{}, true},
	}
	for _, c := range cases {
		got, err := ParseFirmwareVersion(c.raw)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseFirmwareVersion(%q) succeeded, want error", c.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFirmwareVersion(%q): %v", c.raw, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseFirmwareVersion(%q) = %+v, want %+v", c.raw, got, c.want)
		}
	}
}

func TestSupportsFavoritesBoundary(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"2.6.11", false},
		{"2.7.0", true},
		{"2.7.3.abc", true},
		{"3.0.0", true},
		{"1.9.9", false},
	}
	for _, c := range cases {
		v, err := ParseFirmwareVersion(c.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", c.raw, err)
		}
		if got := v.SupportsFavorites(); got != c.want {
			t.Errorf("%q SupportsFavorites = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestFavoriteGateReturnsFirmwareError(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)
	env.manager.state.SetFirmwareVersion("2.6.11")

	err := env.manager.SetFavoriteNode(context.Background(), targetNum)
	var fwErr *FirmwareUnsupportedError
	if !errors.As(err, &fwErr) {
		t.Fatalf("err = %v, want FirmwareUnsupportedError", err)
	}
	if fwErr.Firmware != "2.6.11" {
		t.Fatalf("error firmware = %q", fwErr.Firmware)
	}
}

func TestCapabilityCacheInvalidation(t *testing.T) {
	state := NewDeviceState()
	state.ProcessMyNodeInfo(myInfoProto(1), nil)

	state.SetFirmwareVersion("2.6.0")
	if state.SupportsFavorites() {
		t.Fatal("2.6 reported as supporting favorites")
	}

	// A firmware update arrives; the cached answer must not stick.
	state.SetFirmwareVersion("2.7.0")
	if !state.SupportsFavorites() {
		t.Fatal("capability cache not invalidated after firmware change")
	}
}
