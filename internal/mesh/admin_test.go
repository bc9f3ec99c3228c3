package mesh

import (
	"context"
	"testing"

	generated "github.com/rabarar/meshtastic"
	"google.golang.org/protobuf/proto"
)

func lastAdminMessage(t *testing.T, env *testEnv) *generated.AdminMessage {
	t.Helper()

	frames := env.transport.frames()
	if len(frames) == 0 {
		t.Fatal("no frame written")
	}
	var wire generated.ToRadio
	if err := proto.Unmarshal(frames[len(frames)-1], &wire); err != nil {
		t.Fatalf("unmarshal toradio: %v", err)
	}
	decoded := wire.GetPacket().GetDecoded()
	if decoded.GetPortnum() != generated.PortNum_ADMIN_APP {
		t.Fatalf("portnum = %v, want admin", decoded.GetPortnum())
	}
	var admin generated.AdminMessage
	if err := proto.Unmarshal(decoded.GetPayload(), &admin); err != nil {
		t.Fatalf("unmarshal admin: %v", err)
	}

	return &admin
}

// The radio never answers on the idle transport, so a passkey round
// trip would block and fail; local admin writes must go out without
// one.
func TestSetOwnerLocalAdminSkipsPasskey(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)

	before := env.transport.writeCount()
	if err := env.manager.SetOwner(context.Background(), "Base Camp", "BASE"); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	if env.transport.writeCount() != before+1 {
		t.Fatalf("writes = %d, want one admin frame", env.transport.writeCount()-before)
	}

	admin := lastAdminMessage(t, env)
	if admin.GetSetOwner().GetLongName() != "Base Camp" {
		t.Fatalf("owner = %q", admin.GetSetOwner().GetLongName())
	}
	if len(admin.GetSessionPasskey()) != 0 {
		t.Fatal("local admin write carried a session passkey")
	}
}

func TestRebootLocalAdminSendsImmediately(t *testing.T) {
	env := newTestEnv(t, true)
	seedLocalNode(env, localNum)

	if err := env.manager.Reboot(context.Background(), 5); err != nil {
		t.Fatalf("reboot: %v", err)
	}

	admin := lastAdminMessage(t, env)
	if admin.GetRebootSeconds() != 5 {
		t.Fatalf("reboot seconds = %d, want 5", admin.GetRebootSeconds())
	}
}
