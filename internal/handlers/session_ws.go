package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/greenbook-app/greenbook-backend/internal/auth"
	"github.com/greenbook-app/greenbook-backend/internal/middleware"
)

var sessionUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for WebSocket is handled at the HTTP layer already.
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadDeadline = 90 * time.Second
)

// SessionHandler streams principal sign-in/sign-out events over WebSocket
// so connected clients can react when their account signs in elsewhere or
// gets signed out.
type SessionHandler struct {
	authSvc *auth.Service
}

func NewSessionHandler(authSvc *auth.Service) *SessionHandler {
	return &SessionHandler{authSvc: authSvc}
}

// Stream upgrades the connection and forwards events for the caller's own
// principal. Authentication uses the session token (Authorization header or
// token query parameter for browser clients).
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		http.Error(w, "missing session token", http.StatusUnauthorized)
		return
	}
	principalID, ok, err := h.authSvc.ValidateSession(r.Context(), token)
	if err != nil || !ok {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := sessionUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := h.authSvc.Events().Subscribe()
	defer unsubscribe()

	done := make(chan struct{})

	// Reader loop exists only to notice disconnects and answer pings.
	go func() {
		defer close(done)
		conn.SetReadLimit(4 * 1024)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, open := <-events:
			if !open {
				return
			}
			// Only the caller's own principal is interesting.
			if evt.PrincipalID != principalID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
