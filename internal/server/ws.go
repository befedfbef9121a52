package server

import (
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"taskdeck/internal/realtime"
)

const (
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 90 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerWebsocket exposes the realtime notification stream. The route sits
// under the API base path so the auth middleware resolves the principal
// before the upgrade.
func registerWebsocket(router chi.Router, basePath string, registry *realtime.Registry) {
	if registry == nil {
		return
	}
	router.Get(path.Join(basePath, "ws"), func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFromContext(r.Context())
		if !ok || principal.ActorID == "" {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		ws, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := registry.Register(principal.ActorID, ws)
		go serveConn(registry, conn, ws)
	})
}

// serveConn drains client frames to observe pongs and close, and pings
// periodically so half-open connections get reaped.
func serveConn(registry *realtime.Registry, conn *realtime.Conn, ws *websocket.Conn) {
	defer func() {
		registry.Unregister(conn)
		ws.Close()
	}()

	ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
			ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
