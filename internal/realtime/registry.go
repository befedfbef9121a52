// Package realtime tracks live websocket connections per user so state
// transitions can push notifications to connected clients. The registry is an
// injected service with an explicit lifecycle: connections register on
// websocket upgrade and unregister on disconnect.
package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a registered client connection.
type Conn struct {
	UserID      string
	WS          *websocket.Conn
	ConnectedAt time.Time
	writeMu     sync.Mutex // protects WS writes
}

// WriteJSON sends a JSON message to the client (thread-safe).
func (c *Conn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.WS.WriteJSON(v)
}

// Registry tracks connected clients keyed by user id. A user may hold several
// connections (multiple tabs/devices).
type Registry struct {
	conns map[string][]*Conn
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string][]*Conn)}
}

// Register adds a connection for a user and returns it.
func (r *Registry) Register(userID string, ws *websocket.Conn) *Conn {
	c := &Conn{UserID: userID, WS: ws, ConnectedAt: time.Now()}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[userID] = append(r.conns[userID], c)
	return c
}

// Unregister removes a connection. Safe to call for an already removed conn.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.conns[c.UserID]
	for i, existing := range list {
		if existing == c {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.conns, c.UserID)
		return
	}
	r.conns[c.UserID] = list
}

// Send pushes a JSON payload to every live connection of a user. Dead
// connections are dropped from the registry. Returns the number of
// connections written to.
func (r *Registry) Send(userID string, payload any) int {
	r.mu.RLock()
	list := append([]*Conn(nil), r.conns[userID]...)
	r.mu.RUnlock()
	sent := 0
	for _, c := range list {
		if err := c.WriteJSON(payload); err != nil {
			r.Unregister(c)
			continue
		}
		sent++
	}
	return sent
}

// Connected reports whether a user has at least one live connection.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// ConnectionCount returns the total number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, list := range r.conns {
		n += len(list)
	}
	return n
}
