package domain

import "testing"

func TestFormatNodeNum(t *testing.T) {
	tests := []struct {
		name string
		num  uint32
		want string
	}{
		{name: "regular", num: 0x11223344, want: "!11223344"},
		{name: "leading zeros", num: 0xabc, want: "!00000abc"},
		{name: "zero is unknown", num: 0, want: "unknown"},
		{name: "broadcast", num: BroadcastNodeNum, want: "!ffffffff"},
	}

	for _, tt := range tests {
		if got := FormatNodeNum(tt.num); got != tt.want {
			t.Fatalf("%s: expected %q, got %q", tt.name, tt.want, got)
		}
	}
}

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    uint32
		wantErr bool
	}{
		{name: "canonical", raw: "!11223344", want: 0x11223344},
		{name: "hex prefix", raw: "0x11223344", want: 0x11223344},
		{name: "bare hex with letters", raw: "aabbccdd", want: 0xaabbccdd},
		{name: "decimal", raw: "287454020", want: 0x11223344},
		{name: "spaces", raw: "  !00000abc  ", want: 0xabc},
		{name: "empty", raw: "", wantErr: true},
		{name: "garbage", raw: "!zzzz", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseNodeID(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got %v", tt.name, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: expected %#x, got %#x", tt.name, tt.want, got)
		}
	}
}

func TestParseNodeIDRoundTrip(t *testing.T) {
	nums := []uint32{1, 0xabc, 0x11223344, 0xfffffffe}
	for _, num := range nums {
		got, err := ParseNodeID(FormatNodeNum(num))
		if err != nil {
			t.Fatalf("round trip %#x: %v", num, err)
		}
		if got != num {
			t.Fatalf("round trip %#x: got %#x", num, got)
		}
	}
}

func TestNormalizeNodeID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "valid", raw: "!11223344", want: "!11223344"},
		{name: "trimmed", raw: " !11223344 ", want: "!11223344"},
		{name: "unknown placeholder", raw: "unknown", want: ""},
		{name: "broadcast id", raw: "!ffffffff", want: ""},
		{name: "empty", raw: "", want: ""},
	}

	for _, tt := range tests {
		if got := NormalizeNodeID(tt.raw); got != tt.want {
			t.Fatalf("%s: expected %q, got %q", tt.name, tt.want, got)
		}
	}
}
