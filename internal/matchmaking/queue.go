package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arenahq/battle-backend/internal/fanout"
	"github.com/arenahq/battle-backend/internal/friends"
	"github.com/arenahq/battle-backend/internal/presence"
	"github.com/arenahq/battle-backend/internal/store"
	"github.com/arenahq/battle-backend/pkg/types"
)

var (
	ErrAlreadyQueued = errors.New("already in matchmaking queue")
	ErrTeamNotOwned  = errors.New("team not owned by player")
	ErrNotOnline     = errors.New("player not online")
)

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusMatched Status = "matched"
)

// Entry is one queued player, JSON-encoded into the shared Redis list.
type Entry struct {
	PlayerID string `json:"player_id"`
	TeamID   int64  `json:"team_id"`
}

// Queue pairs anonymous players FIFO. Entries can go stale while queued (the
// owner disconnects), so online-ness is re-validated at pairing time and the
// surviving side goes back to the tail.
type Queue struct {
	rdb      *redis.Client
	presence *presence.Registry
	fanout   *fanout.Registry
	collab   friends.Collaborator
	logger   *zap.Logger
}

func NewQueue(rdb *redis.Client, pres *presence.Registry, fan *fanout.Registry, collab friends.Collaborator, logger *zap.Logger) *Queue {
	return &Queue{
		rdb:      rdb,
		presence: pres,
		fanout:   fan,
		collab:   collab,
		logger:   logger,
	}
}

// Join tries to pair the player with the queue head, falling back to waiting
// at the tail. Stale heads are dropped with exactly one extra pop, never a
// retry loop.
func (q *Queue) Join(ctx context.Context, playerID string, teamID int64) (Status, error) {
	owned, err := q.collab.IsTeamOwned(ctx, playerID, teamID)
	if err != nil {
		return "", fmt.Errorf("team ownership check: %w", err)
	}
	if !owned {
		return "", ErrTeamNotOwned
	}

	self := Entry{PlayerID: playerID, TeamID: teamID}
	raw, err := json.Marshal(self)
	if err != nil {
		return "", err
	}

	queued, err := q.rdb.LRange(ctx, store.QueueKey(), 0, -1).Result()
	if err != nil {
		return "", fmt.Errorf("queue scan: %w", err)
	}
	for _, e := range queued {
		if e == string(raw) {
			return "", ErrAlreadyQueued
		}
	}

	online, err := q.presence.IsOnline(ctx, playerID)
	if err != nil {
		return "", err
	}
	if !online {
		return "", ErrNotOnline
	}

	// One pop plus one staleness retry; a queue full of stale entries
	// degenerates to pushing ourselves and waiting.
	for attempt := 0; attempt < 2; attempt++ {
		head, err := q.rdb.LPop(ctx, store.QueueKey()).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("queue pop: %w", err)
		}

		var opp Entry
		if err := json.Unmarshal([]byte(head), &opp); err != nil {
			q.logger.Warn("discarding malformed queue entry", zap.String("entry", head))
			continue
		}
		if opp.PlayerID == playerID {
			// Older entry from the same player with a different team;
			// superseded by this join.
			continue
		}

		oppOnline, err := q.presence.IsOnline(ctx, opp.PlayerID)
		if err != nil {
			return "", err
		}
		if !oppOnline {
			q.logger.Debug("dropping stale queue entry", zap.String("player_id", opp.PlayerID))
			continue
		}

		q.emitMatch(self, opp)
		return StatusMatched, nil
	}

	if err := q.rdb.RPush(ctx, store.QueueKey(), raw).Err(); err != nil {
		return "", fmt.Errorf("queue push: %w", err)
	}
	return StatusWaiting, nil
}

// Leave removes every queue entry for the player. Absent entries are a no-op.
func (q *Queue) Leave(ctx context.Context, playerID string) error {
	queued, err := q.rdb.LRange(ctx, store.QueueKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("queue scan: %w", err)
	}
	for _, e := range queued {
		var entry Entry
		if err := json.Unmarshal([]byte(e), &entry); err != nil {
			continue
		}
		if entry.PlayerID != playerID {
			continue
		}
		if err := q.rdb.LRem(ctx, store.QueueKey(), 1, e).Err(); err != nil {
			return fmt.Errorf("queue remove: %w", err)
		}
	}
	return nil
}

func (q *Queue) emitMatch(a, b Entry) {
	roomID := uuid.NewString()
	q.logger.Info("match found",
		zap.String("room_id", roomID),
		zap.String("player_a", a.PlayerID),
		zap.String("player_b", b.PlayerID))

	q.fanout.Deliver(a.PlayerID, types.ServerMessage{
		Type: types.EvtMatchFound,
		Match: &types.MatchFound{
			RoomID:         roomID,
			Mode:           types.ModeMatchmaking,
			OpponentID:     b.PlayerID,
			TeamID:         a.TeamID,
			OpponentTeamID: b.TeamID,
		},
	})
	q.fanout.Deliver(b.PlayerID, types.ServerMessage{
		Type: types.EvtMatchFound,
		Match: &types.MatchFound{
			RoomID:         roomID,
			Mode:           types.ModeMatchmaking,
			OpponentID:     a.PlayerID,
			TeamID:         b.TeamID,
			OpponentTeamID: a.TeamID,
		},
	})
}
