package fanout

import (
	"testing"

	"go.uber.org/zap"

	"github.com/arenahq/battle-backend/pkg/types"
)

type fakeSession struct {
	got  []types.ServerMessage
	dead bool
}

func (f *fakeSession) Send(msg types.ServerMessage) bool {
	if f.dead {
		return false
	}
	f.got = append(f.got, msg)
	return true
}

func TestDeliver_AllConnsForPlayer(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	tab1 := &fakeSession{}
	tab2 := &fakeSession{}
	other := &fakeSession{}
	r.Register("p1", "c1", tab1)
	r.Register("p1", "c2", tab2)
	r.Register("p2", "c3", other)

	r.Deliver("p1", types.ServerMessage{Type: types.EvtFriendOnline, PlayerID: "p2"})

	if len(tab1.got) != 1 || len(tab2.got) != 1 {
		t.Fatalf("want both p1 sessions to receive, got %d and %d", len(tab1.got), len(tab2.got))
	}
	if len(other.got) != 0 {
		t.Fatalf("p2 must not receive p1's event, got %+v", other.got)
	}
}

func TestDeliver_DeadSessionPrunedOthersStillReceive(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	dead := &fakeSession{dead: true}
	live := &fakeSession{}
	r.Register("p1", "c1", dead)
	r.Register("p1", "c2", live)

	r.Deliver("p1", types.ServerMessage{Type: types.EvtFriendOffline, PlayerID: "p9"})

	if len(live.got) != 1 {
		t.Fatalf("live session should receive despite dead sibling, got %d", len(live.got))
	}
	if r.Count("p1") != 1 {
		t.Fatalf("dead session should be pruned, count=%d", r.Count("p1"))
	}
}

func TestDeliver_UnknownPlayerNoop(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	// Must not panic or error; the player may simply be on another instance.
	r.Deliver("ghost", types.ServerMessage{Type: types.EvtFriendOnline})
}

func TestUnregister_LastConnRemovesPlayer(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register("p1", "c1", &fakeSession{})
	r.Unregister("p1", "c1")
	if r.Count("p1") != 0 {
		t.Fatalf("expected zero sessions after unregister")
	}
	// Double-unregister is a no-op.
	r.Unregister("p1", "c1")
}
