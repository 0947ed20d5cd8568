package wsgate

import (
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/pkg/chessdto"
)

// Hub tracks which connections watch which sessions. It implements
// arena.Publisher; Broadcast never blocks on a slow connection.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*conn]struct{}
	users  map[string]map[*conn]struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[*conn]struct{}),
		users:  make(map[string]map[*conn]struct{}),
		logger: logger,
	}
}

func (h *Hub) Broadcast(sessionID string, frame chessdto.Outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subs[sessionID] {
		if !c.send(frame) {
			h.logger.Warn("ws_drop_slow_consumer",
				zap.String("session_id", sessionID),
				zap.String("user", c.user),
				zap.String("type", frame.Type),
			)
		}
	}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[c.user]
	if !ok {
		set = make(map[*conn]struct{})
		h.users[c.user] = set
	}
	set[c] = struct{}{}
}

// subscribe reports whether c was newly added.
func (h *Hub) subscribe(sessionID string, c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*conn]struct{})
		h.subs[sessionID] = set
	}
	if _, dup := set[c]; dup {
		return false
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) unsubscribe(sessionID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(sessionID, c)
}

func (h *Hub) dropLocked(sessionID string, c *conn) {
	set := h.subs[sessionID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.subs, sessionID)
	}
}

// remove forgets c and reports whether its user still has another connection.
func (h *Hub) remove(c *conn, sessions []string) (stillOnline bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range sessions {
		h.dropLocked(id, c)
	}
	set := h.users[c.user]
	delete(set, c)
	if len(set) == 0 {
		delete(h.users, c.user)
		return false
	}
	return true
}

// Subscribers returns the number of connections watching sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
