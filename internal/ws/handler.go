package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arenahq/battle-backend/internal/hub"
	"github.com/arenahq/battle-backend/pkg/types"
)

const (
	outboxSize   = 16
	writeTimeout = 3 * time.Second
)

// session adapts one websocket to fanout.Session. Sends go through a buffered
// outbox drained by the writer goroutine; a full outbox marks the session
// dead rather than blocking a delivery.
type session struct {
	outbox chan types.ServerMessage
}

func newSession() *session {
	return &session{outbox: make(chan types.ServerMessage, outboxSize)}
}

func (s *session) Send(msg types.ServerMessage) bool {
	select {
	case s.outbox <- msg:
		return true
	default:
		return false
	}
}

func (s *session) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.outbox:
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Handler upgrades /ws connections and runs the read loop. The player id is
// resolved out-of-band by the auth layer and arrives as a query parameter on
// the already-authenticated request.
func Handler(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("player_id")
		if playerID == "" {
			http.Error(w, "missing player_id", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		sess := newSession()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go sess.writeLoop(writeCtx, conn)

		if err := h.Connect(r.Context(), connID, playerID, sess); err != nil {
			logger.Warn("connect failed", zap.String("player_id", playerID), zap.Error(err))
			return
		}
		// Disconnect must run even when the request context is already gone.
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			h.Disconnect(ctx, connID, playerID)
		}()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				sess.Send(types.ServerMessage{Type: types.EvtError, Error: "bad json"})
				continue
			}

			if err := h.Dispatch(r.Context(), playerID, cm); err != nil {
				// Validation and not-found failures belong to this caller
				// only; state elsewhere is untouched.
				sess.Send(types.ServerMessage{Type: types.EvtError, Error: err.Error()})
			}
		}
	}
}
