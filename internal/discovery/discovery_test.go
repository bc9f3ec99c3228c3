package discovery

import (
	"net"
	"testing"

	"github.com/enbility/zeroconf/v3"
)

func TestRadioFromEntryPrefersIPv4(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		Port:     4403,
		AddrIPv4: []net.IP{net.ParseIP("192.168.1.20")},
		AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
	}
	entry.Instance = "Meshtastic_abcd"

	radio, ok := radioFromEntry(entry)
	if !ok {
		t.Fatal("entry rejected")
	}
	if radio.Host != "192.168.1.20" || radio.Port != 4403 || radio.Instance != "Meshtastic_abcd" {
		t.Fatalf("radio = %+v", radio)
	}
}

func TestRadioFromEntryFallsBackToHostname(t *testing.T) {
	entry := &zeroconf.ServiceEntry{Port: 4403}
	entry.Instance = "Meshtastic_abcd"
	entry.HostName = "meshtastic.local."

	radio, ok := radioFromEntry(entry)
	if !ok {
		t.Fatal("entry rejected")
	}
	if radio.Host != "meshtastic.local." {
		t.Fatalf("host = %q", radio.Host)
	}
}

func TestRadioFromEntryWithoutAddressRejected(t *testing.T) {
	entry := &zeroconf.ServiceEntry{Port: 4403}

	if _, ok := radioFromEntry(entry); ok {
		t.Fatal("address-less entry accepted")
	}
}
