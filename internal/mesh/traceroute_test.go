package mesh

import (
	"context"
	"strings"
	"testing"

	generated "github.com/rabarar/meshtastic"
	"google.golang.org/protobuf/proto"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

func tracerouteResponse(t *testing.T, discovery *generated.RouteDiscovery) *generated.MeshPacket {
	t.Helper()
	payload, err := proto.Marshal(discovery)
	if err != nil {
		t.Fatalf("marshal route discovery: %v", err)
	}

	return &generated.MeshPacket{
		From: targetNum,
		To:   localNum,
		Id:   5501,
		PayloadVariant: &generated.MeshPacket_Decoded{Decoded: &generated.Data{
			Portnum:   generated.PortNum_TRACEROUTE_APP,
			Payload:   payload,
			RequestId: 5500,
		}},
	}
}

func seedPositionedNode(t *testing.T, env *testEnv, num uint32, name string, lat, lon float64) {
	t.Helper()
	node := welcomeCandidate(env, num, name, "")
	node.Latitude = &lat
	node.Longitude = &lon
	if err := env.store.nodes.Upsert(context.Background(), node); err != nil {
		t.Fatalf("seed node %s: %v", name, err)
	}
}

func TestTracerouteDirectRoute(t *testing.T) {
	env := newTestEnv(t, false)
	seedLocalNode(env, localNum)
	ctx := context.Background()

	seedPositionedNode(t, env, localNum, "Base", 50.0, 14.0)
	seedPositionedNode(t, env, targetNum, "Hilltop", 50.1, 14.0)

	pkt := tracerouteResponse(t, &generated.RouteDiscovery{
		SnrTowards: []int32{48}, // 12 dB
	})
	env.manager.handleTraceroute(ctx, pkt, pkt.GetDecoded().GetPayload())

	records, err := env.store.traceroutes.ListRecent(ctx, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("records = %d err = %v", len(records), err)
	}
	rec := records[0]
	if rec.FromNum != localNum || rec.ToNum != targetNum || !rec.IsComplete {
		t.Fatalf("record = %+v", rec)
	}
	if len(rec.SNRTowards) != 1 || rec.SNRTowards[0] != 12 {
		t.Fatalf("snr towards = %v, want [12]", rec.SNRTowards)
	}

	segments := env.store.traceroutes.segments
	if len(segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(segments))
	}
	seg := segments[0]
	if seg.DistanceKm == nil || *seg.DistanceKm < 11 || *seg.DistanceKm > 11.3 {
		t.Fatalf("segment distance = %v, want ~11.1 km", seg.DistanceKm)
	}
	if !seg.IsRecordHolder {
		t.Fatal("longest segment not flagged as record holder")
	}

	msgs, _ := env.store.messages.ListRecent(ctx, 10)
	if len(msgs) != 1 || msgs[0].Kind != domain.MessageKindTraceroute {
		t.Fatalf("traceroute message missing: %+v", msgs)
	}
	summary := msgs[0].Text
	for _, fragment := range []string{"Hilltop", "Base", "12.00dB", "km"} {
		if !strings.Contains(summary, fragment) {
			t.Fatalf("summary %q missing %q", summary, fragment)
		}
	}
}

func TestTracerouteEstimatesIntermediatePosition(t *testing.T) {
	env := newTestEnv(t, false)
	seedLocalNode(env, localNum)
	ctx := context.Background()

	hopNum := uint32(0x0c0c0c0c)
	seedPositionedNode(t, env, localNum, "Base", 50.0, 14.0)
	seedPositionedNode(t, env, targetNum, "Hilltop", 50.2, 14.0)
	if err := env.store.nodes.Upsert(ctx, welcomeCandidate(env, hopNum, "Relay", "RLY")); err != nil {
		t.Fatalf("seed relay: %v", err)
	}

	pkt := tracerouteResponse(t, &generated.RouteDiscovery{
		Route:      []uint32{hopNum},
		SnrTowards: []int32{20, 44},
	})
	env.manager.handleTraceroute(ctx, pkt, pkt.GetDecoded().GetPayload())

	lats := env.store.telemetry.forType(hopNum, domain.TelemetryEstLatitude)
	lons := env.store.telemetry.forType(hopNum, domain.TelemetryEstLongitude)
	if len(lats) != 1 || len(lons) != 1 {
		t.Fatalf("estimate rows = %d/%d, want 1/1", len(lats), len(lons))
	}
	if lats[0].Value < 50.09 || lats[0].Value > 50.11 {
		t.Fatalf("estimated latitude = %v, want ~50.1", lats[0].Value)
	}
	if lons[0].Value != 14.0 {
		t.Fatalf("estimated longitude = %v, want 14.0", lons[0].Value)
	}
}

func TestTracerouteReturnPathRendered(t *testing.T) {
	env := newTestEnv(t, false)
	seedLocalNode(env, localNum)
	ctx := context.Background()

	seedPositionedNode(t, env, localNum, "Base", 50.0, 14.0)
	seedPositionedNode(t, env, targetNum, "Hilltop", 50.1, 14.0)

	pkt := tracerouteResponse(t, &generated.RouteDiscovery{
		SnrTowards: []int32{48},
		SnrBack:    []int32{40},
	})
	env.manager.handleTraceroute(ctx, pkt, pkt.GetDecoded().GetPayload())

	msgs, _ := env.store.messages.ListRecent(ctx, 1)
	if len(msgs) != 1 {
		t.Fatal("summary message missing")
	}
	if !strings.Contains(msgs[0].Text, "Back:") {
		t.Fatalf("summary %q missing return path", msgs[0].Text)
	}
	if !strings.Contains(msgs[0].Text, "10.00dB") {
		t.Fatalf("summary %q missing return SNR", msgs[0].Text)
	}
}

func TestTracerouteForwardPathOrder(t *testing.T) {
	env := newTestEnv(t, false)
	seedLocalNode(env, localNum)
	ctx := context.Background()

	relayNum := uint32(0x0c0c0c0c)
	for _, n := range []struct {
		num  uint32
		name string
	}{{targetNum, "Summit"}, {relayNum, "Relay"}, {localNum, "Base"}} {
		if err := env.store.nodes.Upsert(ctx, welcomeCandidate(env, n.num, n.name, "")); err != nil {
			t.Fatalf("seed %s: %v", n.name, err)
		}
	}

	pkt := tracerouteResponse(t, &generated.RouteDiscovery{
		Route:      []uint32{relayNum},
		SnrTowards: []int32{-20, 40}, // -5 dB, 10 dB
		RouteBack:  []uint32{relayNum},
		SnrBack:    []int32{32, -12}, // 8 dB, -3 dB
	})
	env.manager.handleTraceroute(ctx, pkt, pkt.GetDecoded().GetPayload())

	msgs, _ := env.store.messages.ListRecent(ctx, 1)
	if len(msgs) != 1 {
		t.Fatal("summary message missing")
	}
	var towards string
	for _, line := range strings.Split(msgs[0].Text, "\n") {
		if strings.HasPrefix(line, "Towards: ") {
			towards = strings.TrimPrefix(line, "Towards: ")
		}
	}
	if towards == "" {
		t.Fatalf("summary %q missing forward path", msgs[0].Text)
	}
	// The forward path walks responder -> relay -> requester, each hop
	// annotated with its SNR.
	if !strings.HasPrefix(towards, "Summit") || !strings.HasSuffix(towards, "Base") {
		t.Fatalf("forward path %q, want Summit … Base", towards)
	}
	if strings.Count(towards, "Relay") != 1 {
		t.Fatalf("forward path %q, want Relay exactly once", towards)
	}
	if strings.Index(towards, "-5.00dB") > strings.Index(towards, "Relay") {
		t.Fatalf("forward path %q pairs first SNR with the wrong hop", towards)
	}

	segments := env.store.traceroutes.segments
	if len(segments) != 4 {
		t.Fatalf("segments = %d, want 4", len(segments))
	}
	first := segments[0]
	if first.FromNum != targetNum || first.ToNum != relayNum {
		t.Fatalf("first segment %+v, want responder -> relay", first)
	}
	if first.SNR == nil || *first.SNR != -5 {
		t.Fatalf("first segment SNR = %v, want -5", first.SNR)
	}
	backFirst := segments[2]
	if backFirst.FromNum != localNum || backFirst.ToNum != relayNum {
		t.Fatalf("first back segment %+v, want requester -> relay", backFirst)
	}
}

func TestDecodeSNRListUnknownSentinel(t *testing.T) {
	got := decodeSNRList([]int32{48, -128, 10})
	if len(got) != 3 || got[0] != 12 || got[1] != 0 || got[2] != 2.5 {
		t.Fatalf("decoded = %v", got)
	}
}
