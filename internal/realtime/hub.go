// Package realtime pushes newly stored messages to connected participants
// over websockets.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lobby/api/internal/sanitize"
	"lobby/api/internal/store"
)

// Hub tracks open connections. A user may hold several at once.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub accepts upgrades from origin, or from any origin when origin is
// empty or "*".
func NewHub(origin string) *Hub {
	h := &Hub{
		conns:  make(map[string]*Connection),
		logger: log.With().Str("module", "realtime").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if origin == "" || origin == "*" {
				return true
			}
			return strings.EqualFold(r.Header.Get("Origin"), origin)
		},
	}
	return h
}

// ServeWS upgrades the request and blocks until the peer disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, rawUser string) error {
	user := sanitize.Text(rawUser)
	if user == "" {
		http.Error(w, "missing user", http.StatusUnprocessableEntity)
		return fmt.Errorf("realtime: empty user")
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}

	conn := newConnection(user, ws)
	h.attach(conn)
	defer h.detach(conn)
	go conn.writeLoop()

	h.logger.Debug().Str("user", user).Str("connection", conn.ID).Msg("stream opened")
	err = conn.readLoop()
	conn.Close(websocket.CloseNormalClosure, "")
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return err
	}
	return nil
}

// Publish sends m to every connection whose user may see it. It never waits
// on a peer: a connection with a full buffer is marked closed and dropped.
func (h *Hub) Publish(m store.Message) {
	h.deliver(m)
}

// deliver returns the number of connections m was queued for.
func (h *Hub) deliver(m store.Message) int {
	payload, err := json.Marshal(m)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode message")
		return 0
	}

	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		if m.VisibleTo(conn.User) {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			h.logger.Warn().Err(err).Str("user", conn.User).Msg("dropping slow stream")
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Connection)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (h *Hub) attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()
}

func (h *Hub) detach(conn *Connection) {
	h.mu.Lock()
	delete(h.conns, conn.ID)
	h.mu.Unlock()
}
