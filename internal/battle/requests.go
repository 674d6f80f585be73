package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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
	ErrSelfChallenge   = errors.New("cannot challenge yourself")
	ErrNotFriends      = errors.New("players are not friends")
	ErrTargetOffline   = errors.New("target player not online")
	ErrRequestConflict = errors.New("battle request already pending for this pair")
	ErrRequestNotFound = errors.New("battle request not found")
	ErrOpponentOffline = errors.New("opponent no longer online")
	ErrTeamNotOwned    = errors.New("team not owned by player")
)

// confirmedFriendsTTL bounds how long a positive friendship check is reused
// before asking the collaborator again.
const confirmedFriendsTTL = time.Minute

// Request is the stored challenge record. Only the sender's team id exists
// until accept time; the accepting side supplies theirs in the accept call.
type Request struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	TeamID    int64     `json:"team_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Protocol mediates directed friend challenges. One record per ordered pair,
// TTL-bound; the reverse direction is blocked while a forward record exists.
// Expiry is the store's TTL alone: an expired request vanishes without
// notifying the target.
type Protocol struct {
	rdb      *redis.Client
	presence *presence.Registry
	fanout   *fanout.Registry
	collab   friends.Collaborator
	logger   *zap.Logger
	ttl      time.Duration
}

func NewProtocol(rdb *redis.Client, pres *presence.Registry, fan *fanout.Registry, collab friends.Collaborator, logger *zap.Logger, ttl time.Duration) *Protocol {
	return &Protocol{
		rdb:      rdb,
		presence: pres,
		fanout:   fan,
		collab:   collab,
		logger:   logger,
		ttl:      ttl,
	}
}

// Send validates and stores a challenge from -> to, then notifies the target.
func (p *Protocol) Send(ctx context.Context, from, to string, teamID int64) error {
	if from == to {
		return ErrSelfChallenge
	}

	ok, err := p.confirmedFriends(ctx, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFriends
	}

	owned, err := p.collab.IsTeamOwned(ctx, from, teamID)
	if err != nil {
		return fmt.Errorf("team ownership check: %w", err)
	}
	if !owned {
		return ErrTeamNotOwned
	}

	online, err := p.presence.IsOnline(ctx, to)
	if err != nil {
		return err
	}
	if !online {
		return ErrTargetOffline
	}

	// A pending challenge in the opposite direction blocks this one, so two
	// friends challenging each other at the same time cannot both win.
	reverse, err := p.rdb.Exists(ctx, store.RequestKey(to, from)).Result()
	if err != nil {
		return err
	}
	if reverse > 0 {
		return ErrRequestConflict
	}

	raw, err := json.Marshal(Request{From: from, To: to, TeamID: teamID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	created, err := p.rdb.SetNX(ctx, store.RequestKey(from, to), raw, p.ttl).Result()
	if err != nil {
		return err
	}
	if !created {
		return ErrRequestConflict
	}
	if err := p.rdb.SAdd(ctx, store.RequestIndexKey(from), to).Err(); err != nil {
		return err
	}

	p.fanout.Deliver(to, types.ServerMessage{
		Type:     types.EvtBattleRequestReceived,
		PlayerID: from,
	})
	return nil
}

// Cancel withdraws a pending challenge and tells the target. A missing
// record is reported to the caller but changes nothing else.
func (p *Protocol) Cancel(ctx context.Context, from, to string) error {
	deleted, err := p.rdb.Del(ctx, store.RequestKey(from, to)).Result()
	if err != nil {
		return err
	}
	if err := p.rdb.SRem(ctx, store.RequestIndexKey(from), to).Err(); err != nil {
		return err
	}
	if deleted == 0 {
		p.logger.Info("cancel of absent battle request",
			zap.String("from", from), zap.String("to", to))
		return ErrRequestNotFound
	}
	p.fanout.Deliver(to, types.ServerMessage{
		Type:     types.EvtBattleRequestCancelled,
		PlayerID: from,
	})
	return nil
}

// Accept resolves the forward record (from -> to) into a friend match. The
// accepting player supplies their own team id here; the record carries only
// the sender's. Expired records look exactly like missing ones.
func (p *Protocol) Accept(ctx context.Context, from, to string, teamID int64) error {
	owned, err := p.collab.IsTeamOwned(ctx, to, teamID)
	if err != nil {
		return fmt.Errorf("team ownership check: %w", err)
	}
	if !owned {
		return ErrTeamNotOwned
	}

	// GetDel claims the record atomically: of two concurrent accepts (or an
	// accept racing the sender's cleanup) exactly one sees the record, so at
	// most one room handoff is ever emitted for the pair.
	raw, err := p.rdb.GetDel(ctx, store.RequestKey(from, to)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrRequestNotFound
	}
	if err != nil {
		return err
	}
	if err := p.rdb.SRem(ctx, store.RequestIndexKey(from), to).Err(); err != nil {
		return err
	}

	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return fmt.Errorf("corrupt battle request record: %w", err)
	}

	// The TTL window is long enough for either side to have vanished; a
	// one-sided match helps nobody.
	online, err := p.presence.FilterOnline(ctx, []string{from, to})
	if err != nil {
		return err
	}
	if len(online) != 2 {
		return ErrOpponentOffline
	}

	roomID := uuid.NewString()
	p.logger.Info("friend match",
		zap.String("room_id", roomID),
		zap.String("from", from),
		zap.String("to", to))

	p.fanout.Deliver(from, types.ServerMessage{
		Type: types.EvtMatchFound,
		Match: &types.MatchFound{
			RoomID:         roomID,
			Mode:           types.ModeFriend,
			OpponentID:     to,
			TeamID:         req.TeamID,
			OpponentTeamID: teamID,
		},
	})
	p.fanout.Deliver(to, types.ServerMessage{
		Type: types.EvtMatchFound,
		Match: &types.MatchFound{
			RoomID:         roomID,
			Mode:           types.ModeFriend,
			OpponentID:     from,
			TeamID:         teamID,
			OpponentTeamID: req.TeamID,
		},
	})
	return nil
}

// Cleanup deletes every outstanding challenge the player initiated. Runs on
// committed disconnect so stale challenges do not outlive their sender.
func (p *Protocol) Cleanup(ctx context.Context, playerID string) error {
	targets, err := p.rdb.SMembers(ctx, store.RequestIndexKey(playerID)).Result()
	if err != nil {
		return err
	}
	for _, to := range targets {
		if err := p.rdb.Del(ctx, store.RequestKey(playerID, to)).Err(); err != nil {
			return err
		}
	}
	return p.rdb.Del(ctx, store.RequestIndexKey(playerID)).Err()
}

// confirmedFriends consults a short-lived positive cache before hitting the
// collaborator. Negative answers are never cached; an un-friending should
// take effect promptly.
func (p *Protocol) confirmedFriends(ctx context.Context, a, b string) (bool, error) {
	key := store.FriendsConfirmKey(a, b)
	val, err := p.rdb.Get(ctx, key).Result()
	if err == nil && val == "1" {
		return true, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	ok, err := p.collab.AreFriends(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("friendship check: %w", err)
	}
	if ok {
		if err := p.rdb.Set(ctx, key, "1", confirmedFriendsTTL).Err(); err != nil {
			p.logger.Warn("friends confirm cache write failed", zap.Error(err))
		}
	}
	return ok, nil
}
