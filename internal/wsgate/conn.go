package wsgate

import (
	"context"
	"sync"

	"nhooyr.io/websocket"

	"github.com/park285/cheese-arena/internal/ratelimit"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

const outboxSize = 64

// conn is one authenticated websocket connection.
type conn struct {
	user    string
	ws      *websocket.Conn
	limiter *ratelimit.Limiter
	out     chan chessdto.Outbound
	cancel  context.CancelFunc

	mu       sync.Mutex
	watching map[string]bool // session id -> participant
	closed   bool
}

func newConn(user string, ws *websocket.Conn, limiter *ratelimit.Limiter, cancel context.CancelFunc) *conn {
	return &conn{
		user:     user,
		ws:       ws,
		limiter:  limiter,
		out:      make(chan chessdto.Outbound, outboxSize),
		cancel:   cancel,
		watching: make(map[string]bool),
	}
}

// send queues f without blocking. A full outbox closes the connection; the
// client resynchronizes on reconnect.
func (c *conn) send(f chessdto.Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- f:
		return true
	default:
		c.closed = true
		c.cancel()
		return false
	}
}

func (c *conn) watch(sessionID string, participant bool) {
	c.mu.Lock()
	c.watching[sessionID] = c.watching[sessionID] || participant
	c.mu.Unlock()
}

// shutdown stops further sends and returns the watched sessions, split by
// whether the user plays in them.
func (c *conn) shutdown() (all, playing []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, p := range c.watching {
		all = append(all, id)
		if p {
			playing = append(playing, id)
		}
	}
	return all, playing
}
