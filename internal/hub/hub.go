package hub

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arenahq/battle-backend/internal/battle"
	"github.com/arenahq/battle-backend/internal/fanout"
	"github.com/arenahq/battle-backend/internal/friends"
	"github.com/arenahq/battle-backend/internal/matchmaking"
	"github.com/arenahq/battle-backend/internal/presence"
	"github.com/arenahq/battle-backend/pkg/types"
)

var ErrUnknownEvent = errors.New("unknown client event")

// Hub wires the coordination core together: realtime connections come in at
// the top, presence transitions ripple out to friends, and the two pairing
// paths (queue and friend challenge) both end in a room handoff.
type Hub struct {
	logger *zap.Logger

	Fanout      *fanout.Registry
	Presence    *presence.Registry
	Friends     *friends.Notifier
	Matchmaking *matchmaking.Queue
	Battle      *battle.Protocol
}

func New(rdb *redis.Client, collab friends.Collaborator, logger *zap.Logger, grace, requestTTL time.Duration) *Hub {
	fan := fanout.NewRegistry(logger.Named("fanout"))
	pres := presence.NewRegistry(rdb, logger.Named("presence"), grace)
	h := &Hub{
		logger:      logger,
		Fanout:      fan,
		Presence:    pres,
		Friends:     friends.NewNotifier(rdb, collab, pres, fan, logger.Named("friends")),
		Matchmaking: matchmaking.NewQueue(rdb, pres, fan, collab, logger.Named("matchmaking")),
		Battle:      battle.NewProtocol(rdb, pres, fan, collab, logger.Named("battle"), requestTTL),
	}
	pres.OnOffline(h.handleOffline)
	return h
}

// Connect registers a new realtime connection. The fanout registration comes
// first so a "came online" notification can reach the player's own session.
func (h *Hub) Connect(ctx context.Context, connID, playerID string, s fanout.Session) error {
	h.Fanout.Register(playerID, connID, s)
	first, err := h.Presence.Register(ctx, connID, playerID)
	if err != nil {
		h.Fanout.Unregister(playerID, connID)
		return err
	}
	if first {
		if err := h.Friends.AnnounceOnline(ctx, playerID); err != nil {
			h.logger.Warn("online announcement failed",
				zap.String("player_id", playerID), zap.Error(err))
		}
	}
	return nil
}

// Disconnect tears down one connection. The offline transition, if any,
// arrives later through the grace-timer path.
func (h *Hub) Disconnect(ctx context.Context, connID, playerID string) {
	h.Fanout.Unregister(playerID, connID)
	if _, _, err := h.Presence.Unregister(ctx, connID); err != nil && !errors.Is(err, presence.ErrUnknownConn) {
		h.logger.Warn("unregister failed", zap.String("conn_id", connID), zap.Error(err))
	}
}

// Dispatch routes one inbound client event. Returned errors are validation
// or not-found failures for the caller alone; nothing here is fatal.
func (h *Hub) Dispatch(ctx context.Context, playerID string, msg types.ClientMessage) error {
	switch msg.Type {
	case types.EvtJoinMatchmaking:
		_, err := h.Matchmaking.Join(ctx, playerID, msg.TeamID)
		return err
	case types.EvtLeaveMatchmaking:
		return h.Matchmaking.Leave(ctx, playerID)
	case types.EvtBattleRequest:
		return h.Battle.Send(ctx, playerID, msg.To, msg.TeamID)
	case types.EvtBattleRequestCancel:
		// Issued by the challenged side; the cancelled event also reaches
		// their own other tabs so every view dismisses the prompt.
		return h.Battle.Cancel(ctx, msg.From, playerID)
	case types.EvtBattleRequestAccept:
		return h.Battle.Accept(ctx, msg.From, playerID, msg.TeamID)
	default:
		return ErrUnknownEvent
	}
}

// handleOffline runs once per committed offline transition: friend teardown
// first, then queue and challenge cleanup.
func (h *Hub) handleOffline(playerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.Friends.AnnounceOffline(ctx, playerID); err != nil {
		h.logger.Warn("offline announcement failed", zap.String("player_id", playerID), zap.Error(err))
	}
	if err := h.Matchmaking.Leave(ctx, playerID); err != nil {
		h.logger.Warn("queue cleanup failed", zap.String("player_id", playerID), zap.Error(err))
	}
	if err := h.Battle.Cleanup(ctx, playerID); err != nil {
		h.logger.Warn("battle request cleanup failed", zap.String("player_id", playerID), zap.Error(err))
	}
}

// Close stops pending grace timers.
func (h *Hub) Close() {
	h.Presence.Close()
}
