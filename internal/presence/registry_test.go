package presence

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testGrace = 30 * time.Millisecond

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	r := NewRegistry(rdb, zap.NewNop(), testGrace)
	t.Cleanup(r.Close)
	return r
}

func TestRegister_FirstConnFlipsOnline(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	first, err := r.Register(ctx, "c1", "p1")
	require.NoError(t, err)
	require.True(t, first)

	online, err := r.IsOnline(ctx, "p1")
	require.NoError(t, err)
	require.True(t, online)

	// Second tab: still online, not a transition.
	first, err = r.Register(ctx, "c2", "p1")
	require.NoError(t, err)
	require.False(t, first)
}

func TestUnregister_NonLastConnKeepsOnline(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	_, _ = r.Register(ctx, "c1", "p1")
	_, _ = r.Register(ctx, "c2", "p1")

	pid, last, err := r.Unregister(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "p1", pid)
	require.False(t, last)

	time.Sleep(3 * testGrace)
	online, err := r.IsOnline(ctx, "p1")
	require.NoError(t, err)
	require.True(t, online)
}

func TestUnregister_LastConnGoesOfflineAfterGrace(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	var offline atomic.Int32
	r.OnOffline(func(playerID string) {
		require.Equal(t, "p1", playerID)
		offline.Add(1)
	})

	_, _ = r.Register(ctx, "c1", "p1")
	pid, last, err := r.Unregister(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "p1", pid)
	require.True(t, last)

	// Still online inside the grace window.
	online, err := r.IsOnline(ctx, "p1")
	require.NoError(t, err)
	require.True(t, online)

	require.Eventually(t, func() bool {
		ok, err := r.IsOnline(ctx, "p1")
		return err == nil && !ok
	}, 10*testGrace, testGrace/3)
	require.Equal(t, int32(1), offline.Load())
}

func TestReconnectWithinGrace_NoOfflineNotification(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	var offline atomic.Int32
	r.OnOffline(func(string) { offline.Add(1) })

	_, _ = r.Register(ctx, "c1", "p1")
	_, _, err := r.Unregister(ctx, "c1")
	require.NoError(t, err)

	// Page reload: new handle arrives before the grace timer fires.
	first, err := r.Register(ctx, "c2", "p1")
	require.NoError(t, err)
	require.False(t, first, "reconnect during grace must not look like a fresh online transition")

	time.Sleep(5 * testGrace)
	require.Equal(t, int32(0), offline.Load(), "no offline event may fire across a grace-window reconnect")

	online, err := r.IsOnline(ctx, "p1")
	require.NoError(t, err)
	require.True(t, online)
}

func TestUnregister_UnknownConn(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	_, _, err := r.Unregister(ctx, "nope")
	require.ErrorIs(t, err, ErrUnknownConn)

	// Double-disconnect of a real handle hits the same path.
	_, _ = r.Register(ctx, "c1", "p1")
	_, _, err = r.Unregister(ctx, "c1")
	require.NoError(t, err)
	_, _, err = r.Unregister(ctx, "c1")
	require.ErrorIs(t, err, ErrUnknownConn)
}

func TestFilterOnline(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	_, _ = r.Register(ctx, "c1", "p1")
	_, _ = r.Register(ctx, "c2", "p3")

	got, err := r.FilterOnline(ctx, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p3"}, got)

	got, err = r.FilterOnline(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, got)
}
