package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arenahq/battle-backend/internal/battle"
	"github.com/arenahq/battle-backend/internal/matchmaking"
	"github.com/arenahq/battle-backend/pkg/types"
)

const testGrace = 25 * time.Millisecond

type fakeCollab struct {
	mu      sync.Mutex
	friends map[string][]string
}

func (f *fakeCollab) GetFriendIDs(_ context.Context, playerID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.friends[playerID], nil
}

func (f *fakeCollab) AreFriends(_ context.Context, a, b string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.friends[a] {
		if id == b {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCollab) IsTeamOwned(context.Context, string, int64) (bool, error) {
	return true, nil
}

type recordSession struct {
	mu  sync.Mutex
	got []types.ServerMessage
}

func (s *recordSession) Send(msg types.ServerMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return true
}

func (s *recordSession) countOf(evt types.ServerEvent) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.got {
		if m.Type == evt {
			n++
		}
	}
	return n
}

func newTestHub(t *testing.T, collab *fakeCollab) *Hub {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	h := New(rdb, collab, zap.NewNop(), testGrace, 30*time.Second)
	t.Cleanup(h.Close)
	return h
}

func TestConnectDisconnect_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	collab := &fakeCollab{friends: map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}}
	h := newTestHub(t, collab)

	b := &recordSession{}
	require.NoError(t, h.Connect(ctx, "cb", "b", b))
	a := &recordSession{}
	require.NoError(t, h.Connect(ctx, "ca", "a", a))

	// b hears a come online.
	require.Equal(t, 1, b.countOf(types.EvtFriendOnline))
	require.Equal(t, 1, a.countOf(types.EvtFriendsOnline))

	// a queues for matchmaking and opens a challenge, then drops.
	require.NoError(t, h.Dispatch(ctx, "a", types.ClientMessage{Type: types.EvtJoinMatchmaking, TeamID: 3}))
	require.NoError(t, h.Dispatch(ctx, "a", types.ClientMessage{Type: types.EvtBattleRequest, To: "b", TeamID: 7}))
	require.Equal(t, 1, b.countOf(types.EvtBattleRequestReceived))

	h.Disconnect(ctx, "ca", "a")

	// After the grace period commits, b hears the offline event and every
	// trace of a is gone: the queue entry and the pending challenge.
	require.Eventually(t, func() bool {
		return b.countOf(types.EvtFriendOffline) == 1
	}, time.Second, 5*time.Millisecond)

	err := h.Dispatch(ctx, "b", types.ClientMessage{Type: types.EvtBattleRequestAccept, From: "a", TeamID: 9})
	require.ErrorIs(t, err, battle.ErrRequestNotFound)

	status, err := h.Matchmaking.Join(ctx, "b", 5)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusWaiting, status, "b must not match a's stale queue entry")
}

func TestReconnectWithinGrace_NoFriendNotifications(t *testing.T) {
	ctx := context.Background()
	collab := &fakeCollab{friends: map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}}
	h := newTestHub(t, collab)

	b := &recordSession{}
	require.NoError(t, h.Connect(ctx, "cb", "b", b))
	a := &recordSession{}
	require.NoError(t, h.Connect(ctx, "ca", "a", a))

	// Page reload: disconnect then reconnect inside the grace window.
	h.Disconnect(ctx, "ca", "a")
	a2 := &recordSession{}
	require.NoError(t, h.Connect(ctx, "ca2", "a", a2))

	time.Sleep(5 * testGrace)
	require.Equal(t, 0, b.countOf(types.EvtFriendOffline), "grace-window reconnect must not flap presence")
	require.Equal(t, 1, b.countOf(types.EvtFriendOnline), "no duplicate online announcement either")
}

func TestDispatch_UnknownEvent(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, &fakeCollab{})

	s := &recordSession{}
	require.NoError(t, h.Connect(ctx, "c1", "a", s))
	err := h.Dispatch(ctx, "a", types.ClientMessage{Type: "reticulate_splines"})
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDispatch_ChallengeAcceptEndToEnd(t *testing.T) {
	ctx := context.Background()
	collab := &fakeCollab{friends: map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}}
	h := newTestHub(t, collab)

	a := &recordSession{}
	require.NoError(t, h.Connect(ctx, "ca", "a", a))
	b := &recordSession{}
	require.NoError(t, h.Connect(ctx, "cb", "b", b))

	require.NoError(t, h.Dispatch(ctx, "a", types.ClientMessage{Type: types.EvtBattleRequest, To: "b", TeamID: 7}))
	require.NoError(t, h.Dispatch(ctx, "b", types.ClientMessage{Type: types.EvtBattleRequestAccept, From: "a", TeamID: 9}))

	require.Equal(t, 1, a.countOf(types.EvtMatchFound))
	require.Equal(t, 1, b.countOf(types.EvtMatchFound))
}
