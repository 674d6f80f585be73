package fanout

import (
	"sync"

	"go.uber.org/zap"

	"github.com/arenahq/battle-backend/pkg/types"
)

// Session is one live realtime transport. Send must not block; it reports
// false when the session can no longer accept messages, at which point the
// registry prunes it.
type Session interface {
	Send(msg types.ServerMessage) bool
}

// Registry holds only the websocket sessions physically connected to this
// process. Cross-instance delivery works because every instance delivers to
// its own sockets against the shared presence state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Session // playerID -> connID -> session
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]map[string]Session),
		logger:   logger,
	}
}

func (r *Registry) Register(playerID, connID string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.sessions[playerID]
	if conns == nil {
		conns = make(map[string]Session)
		r.sessions[playerID] = conns
	}
	conns[connID] = s
}

func (r *Registry) Unregister(playerID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.sessions[playerID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.sessions, playerID)
	}
}

// Deliver sends msg to every session registered for playerID. Deliveries are
// independent: a dead session is pruned and never blocks the rest. Zero
// registered sessions is a no-op, not an error; the player may be connected
// to another instance, or raced a disconnect.
func (r *Registry) Deliver(playerID string, msg types.ServerMessage) {
	r.mu.RLock()
	conns := r.sessions[playerID]
	targets := make(map[string]Session, len(conns))
	for id, s := range conns {
		targets[id] = s
	}
	r.mu.RUnlock()

	for id, s := range targets {
		if !s.Send(msg) {
			r.logger.Debug("dropping dead session",
				zap.String("player_id", playerID), zap.String("conn_id", id))
			r.Unregister(playerID, id)
		}
	}
}

// Count reports the number of locally registered sessions for a player.
func (r *Registry) Count(playerID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[playerID])
}
