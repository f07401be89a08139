package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/listsync/listsync/server/auth"
)

var wakeUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wakeWriteWait  = 10 * time.Second
	wakePingPeriod = 30 * time.Second
)

// WakeWebSocketHandler upgrades a connection and streams wake pings for
// the bearer token's user until the client disconnects.
type WakeWebSocketHandler struct {
	hub        *WakeHub
	jwtService *auth.JWTService
}

func NewWakeWebSocketHandler(hub *WakeHub, jwtService *auth.JWTService) *WakeWebSocketHandler {
	return &WakeWebSocketHandler{hub: hub, jwtService: jwtService}
}

// ServeHTTP implements net/http.Handler directly; the wake socket runs
// on its own listener rather than through the Hertz API server, same as
// the teacher's ws-server process split.
func (h *WakeWebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing authentication token", http.StatusUnauthorized)
		return
	}

	claims, err := h.jwtService.ValidateBearerToken(token)
	if err != nil {
		http.Error(w, "invalid authentication token", http.StatusUnauthorized)
		return
	}

	conn, err := wakeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wake websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	pings := h.hub.Register(ctx, claims.UserID)

	ticker := time.NewTicker(wakePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ping, ok := <-pings:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wakeWriteWait))
			data, err := json.Marshal(ping)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wakeWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
