package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arenahq/battle-backend/internal/store"
)

var ErrUnknownConn = errors.New("unknown connection")

// Registry tracks which players are reachable. Connection membership and the
// derived online set live in Redis so all instances agree; the grace timers
// are local because the instance that saw the last disconnect owns the
// offline decision.
type Registry struct {
	rdb    *redis.Client
	logger *zap.Logger
	grace  time.Duration

	onOffline func(playerID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewRegistry(rdb *redis.Client, logger *zap.Logger, grace time.Duration) *Registry {
	return &Registry{
		rdb:    rdb,
		logger: logger,
		grace:  grace,
		timers: make(map[string]*time.Timer),
	}
}

// OnOffline installs the hook invoked after an offline transition commits.
// Must be set before the first connection registers.
func (r *Registry) OnOffline(fn func(playerID string)) {
	r.onOffline = fn
}

// Register adds a connection for the player and reports whether this flipped
// the player into the online set. Re-registering a known handle is a no-op.
// Any pending grace timer is cancelled first, so a reconnect inside the
// window never reaches the offline path.
func (r *Registry) Register(ctx context.Context, connID, playerID string) (first bool, err error) {
	r.cancelGrace(playerID)

	if err := r.rdb.SAdd(ctx, store.ConnsKey(playerID), connID).Err(); err != nil {
		return false, err
	}
	if err := r.rdb.Set(ctx, store.OwnerKey(connID), playerID, 0).Err(); err != nil {
		return false, err
	}
	// Membership in the online set is the transition signal: a reconnect
	// during the grace window finds the player still present and does not
	// re-announce.
	became, err := r.rdb.SAdd(ctx, store.OnlineKey(), playerID).Result()
	if err != nil {
		return false, err
	}
	return became == 1, nil
}

// Unregister resolves the owning player and removes the connection. When the
// player's last connection goes away it arms the grace timer rather than
// flipping offline immediately. Unknown handles (double-disconnect, or a
// socket that never authenticated) return ErrUnknownConn.
func (r *Registry) Unregister(ctx context.Context, connID string) (playerID string, last bool, err error) {
	playerID, err = r.rdb.GetDel(ctx, store.OwnerKey(connID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, ErrUnknownConn
	}
	if err != nil {
		return "", false, err
	}
	if err := r.rdb.SRem(ctx, store.ConnsKey(playerID), connID).Err(); err != nil {
		return playerID, false, err
	}
	n, err := r.rdb.SCard(ctx, store.ConnsKey(playerID)).Result()
	if err != nil {
		return playerID, false, err
	}
	if n == 0 {
		r.armGrace(playerID)
		last = true
	}
	return playerID, last, nil
}

func (r *Registry) IsOnline(ctx context.Context, playerID string) (bool, error) {
	return r.rdb.SIsMember(ctx, store.OnlineKey(), playerID).Result()
}

// FilterOnline returns the subset of ids currently in the online set,
// preserving input order.
func (r *Registry) FilterOnline(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.BoolCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.SIsMember(ctx, store.OnlineKey(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	online := make([]string, 0, len(ids))
	for i, cmd := range cmds {
		if cmd.Val() {
			online = append(online, ids[i])
		}
	}
	return online, nil
}

func (r *Registry) armGrace(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[playerID]; ok {
		t.Stop()
	}
	r.timers[playerID] = time.AfterFunc(r.grace, func() {
		r.commitOffline(playerID)
	})
}

func (r *Registry) cancelGrace(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[playerID]; ok {
		// Stopping an already-fired timer is a no-op, which is what we want.
		t.Stop()
		delete(r.timers, playerID)
	}
}

// commitOffline runs when a grace timer fires. It re-checks the connection
// set before committing: the player may have reconnected through a different
// instance during the window.
func (r *Registry) commitOffline(playerID string) {
	r.mu.Lock()
	delete(r.timers, playerID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := r.rdb.SCard(ctx, store.ConnsKey(playerID)).Result()
	if err != nil {
		r.logger.Warn("offline re-check failed", zap.String("player_id", playerID), zap.Error(err))
		return
	}
	if n > 0 {
		return
	}
	removed, err := r.rdb.SRem(ctx, store.OnlineKey(), playerID).Result()
	if err != nil {
		r.logger.Warn("online set removal failed", zap.String("player_id", playerID), zap.Error(err))
		return
	}
	if removed == 0 {
		// Another instance committed this transition already.
		return
	}
	r.logger.Debug("player offline", zap.String("player_id", playerID))
	if r.onOffline != nil {
		r.onOffline(playerID)
	}
}

// Close stops all pending grace timers. Offline transitions in flight are
// abandoned; a restarting instance re-derives state from the store.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}
