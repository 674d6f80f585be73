package friends

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arenahq/battle-backend/internal/fanout"
	"github.com/arenahq/battle-backend/internal/presence"
	"github.com/arenahq/battle-backend/internal/store"
	"github.com/arenahq/battle-backend/pkg/types"
)

// friendCacheTTL bounds a snapshot's lifetime. A crashed instance can leave
// a snapshot behind without ever running teardown; the TTL reclaims it so it
// cannot leak into a later session.
const friendCacheTTL = 24 * time.Hour

// Collaborator is the read-only relationship/ownership surface this core
// consumes. The CRUD layer owns the data; everything here is idempotent.
type Collaborator interface {
	GetFriendIDs(ctx context.Context, playerID string) ([]string, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
	IsTeamOwned(ctx context.Context, playerID string, teamID int64) (bool, error)
}

// Notifier fans presence transitions out to friends. The friend list is
// snapshotted into Redis when a player comes online and consumed on the way
// out, so teardown notifies exactly the set that setup notified even if the
// friendship rows changed in between.
type Notifier struct {
	rdb      *redis.Client
	collab   Collaborator
	presence *presence.Registry
	fanout   *fanout.Registry
	logger   *zap.Logger
}

func NewNotifier(rdb *redis.Client, collab Collaborator, pres *presence.Registry, fan *fanout.Registry, logger *zap.Logger) *Notifier {
	return &Notifier{
		rdb:      rdb,
		collab:   collab,
		presence: pres,
		fanout:   fan,
		logger:   logger,
	}
}

// AnnounceOnline snapshots the player's friend list, tells the player which
// friends are online right now, and tells each of those friends the player
// arrived. A friendless player costs one lookup and nothing else.
func (n *Notifier) AnnounceOnline(ctx context.Context, playerID string) error {
	ids, err := n.collab.GetFriendIDs(ctx, playerID)
	if err != nil {
		return fmt.Errorf("friend lookup: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	// Replace any snapshot a crashed teardown left behind; merging would let
	// stale friendships leak into this session's teardown set.
	pipe := n.rdb.TxPipeline()
	pipe.Del(ctx, store.FriendCacheKey(playerID))
	pipe.SAdd(ctx, store.FriendCacheKey(playerID), members...)
	pipe.Expire(ctx, store.FriendCacheKey(playerID), friendCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("friend cache write: %w", err)
	}

	online, err := n.presence.FilterOnline(ctx, ids)
	if err != nil {
		return fmt.Errorf("online filter: %w", err)
	}

	n.fanout.Deliver(playerID, types.ServerMessage{
		Type:      types.EvtFriendsOnline,
		PlayerIDs: online,
	})
	for _, friendID := range online {
		n.fanout.Deliver(friendID, types.ServerMessage{
			Type:     types.EvtFriendOnline,
			PlayerID: playerID,
		})
	}
	return nil
}

// AnnounceOffline reads and destroys the snapshot taken at online time. It
// never re-queries the collaborator here.
func (n *Notifier) AnnounceOffline(ctx context.Context, playerID string) error {
	ids, err := n.rdb.SMembers(ctx, store.FriendCacheKey(playerID)).Result()
	if err != nil {
		return fmt.Errorf("friend cache read: %w", err)
	}
	if err := n.rdb.Del(ctx, store.FriendCacheKey(playerID)).Err(); err != nil {
		n.logger.Warn("friend cache delete failed", zap.String("player_id", playerID), zap.Error(err))
	}
	if len(ids) == 0 {
		return nil
	}

	online, err := n.presence.FilterOnline(ctx, ids)
	if err != nil {
		return fmt.Errorf("online filter: %w", err)
	}
	for _, friendID := range online {
		n.fanout.Deliver(friendID, types.ServerMessage{
			Type:     types.EvtFriendOffline,
			PlayerID: playerID,
		})
	}
	return nil
}
