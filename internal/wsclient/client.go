// Package wsclient is a reconnecting websocket client for the arena gateway.
// After every re-established connection it resends reconnect for the
// sessions it tracks so the server cancels pending abandonment and the
// caller receives a fresh snapshot.
package wsclient

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

// ErrNotConnected is returned by Send while no connection is up.
var ErrNotConnected = errors.New("websocket not connected")

type Option func(*Client)

func WithHeaderProvider(h HeaderProvider) Option { return func(c *Client) { c.headers = h } }

func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithReconnect bounds redial attempts; zero disables reconnection.
func WithReconnect(maxTries uint, initial time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		if initial > 0 {
			c.initialDelay = initial
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

type Client struct {
	url          string
	headers      HeaderProvider
	pingInterval time.Duration
	maxTries     uint
	initialDelay time.Duration
	logger       *zap.Logger

	connM sync.Mutex
	conn  *websocket.Conn
	gen   int

	state  State
	stateM sync.RWMutex

	msgCbs   []callbackEntry
	stateCbs []stateCallbackEntry
	nextCbID int
	cbM      sync.RWMutex

	tracked  []string
	trackedM sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:          url,
		pingInterval: 30 * time.Second,
		maxTries:     8,
		initialDelay: 200 * time.Millisecond,
		logger:       obslog.L(),
		stopCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	return c
}

// Connect dials once. On failure it starts reconnecting in the background
// and returns the dial error.
func (c *Client) Connect(ctx context.Context) error {
	switch c.State() {
	case StateConnected, StateConnecting, StateReconnecting:
		return nil
	}
	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.setState(StateFailed)
		c.scheduleReconnect()
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(),
	})
	if err != nil {
		return err
	}
	if c.isStopping() {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
		return backoff.Permanent(context.Canceled)
	}
	c.connM.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.connM.Unlock()

	c.setState(StateConnected)
	c.wg.Add(2)
	go c.listen(conn, gen)
	go c.pingLoop(conn, gen)
	c.resync()
	return nil
}

// resync announces every tracked session on the fresh connection.
func (c *Client) resync() {
	c.trackedM.Lock()
	ids := slices.Clone(c.tracked)
	c.trackedM.Unlock()
	for _, id := range ids {
		ctx, cancel := context.WithTimeout(c.rootCtx, 5*time.Second)
		err := c.Send(ctx, chessdto.Inbound{Type: chessdto.TypeReconnect, SessionID: id})
		cancel()
		if err != nil {
			c.logger.Warn("ws_client_resync_error", zap.String("session_id", id), zap.Error(err))
		}
	}
}

func (c *Client) listen(conn *websocket.Conn, gen int) {
	defer c.wg.Done()
	for {
		var f chessdto.Outbound
		if err := wsjson.Read(c.rootCtx, conn, &f); err != nil {
			if c.isStopping() {
				return
			}
			c.drop(gen, websocket.StatusGoingAway, "reconnect")
			return
		}
		c.cbM.RLock()
		callbacks := slices.Clone(c.msgCbs)
		c.cbM.RUnlock()
		for _, entry := range callbacks {
			entry.callback(&f)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, gen int) {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			if !c.current(gen) {
				return
			}
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				c.drop(gen, websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (c *Client) current(gen int) bool {
	c.connM.Lock()
	defer c.connM.Unlock()
	return c.gen == gen && c.conn != nil
}

// drop closes the connection of generation gen, if still current, and
// starts reconnecting.
func (c *Client) drop(gen int, code websocket.StatusCode, reason string) {
	c.connM.Lock()
	if c.gen != gen || c.conn == nil {
		c.connM.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.connM.Unlock()

	_ = conn.Close(code, reason)
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	if c.maxTries == 0 || c.isStopping() {
		return
	}
	c.setState(StateReconnecting)
	go func() {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = c.initialDelay
		policy.MaxInterval = 30 * time.Second
		_, err := backoff.Retry(c.rootCtx, func() (struct{}, error) {
			if c.isStopping() {
				return struct{}{}, backoff.Permanent(context.Canceled)
			}
			return struct{}{}, c.dial(c.rootCtx)
		},
			backoff.WithBackOff(policy),
			backoff.WithMaxTries(c.maxTries),
			backoff.WithNotify(func(err error, next time.Duration) {
				c.logger.Debug("ws_client_redial", zap.Error(err), zap.Duration("next", next))
			}),
		)
		if err != nil && !c.isStopping() {
			c.logger.Warn("ws_client_reconnect_failed", zap.Error(err))
			c.setState(StateFailed)
		}
	}()
}

// Send writes one frame.
func (c *Client) Send(ctx context.Context, in chessdto.Inbound) error {
	c.connM.Lock()
	conn := c.conn
	c.connM.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return wsjson.Write(ctx, conn, in)
}

// Track makes the client resend reconnect for id after every redial.
func (c *Client) Track(id string) {
	c.trackedM.Lock()
	defer c.trackedM.Unlock()
	if !slices.Contains(c.tracked, id) {
		c.tracked = append(c.tracked, id)
	}
}

func (c *Client) Untrack(id string) {
	c.trackedM.Lock()
	defer c.trackedM.Unlock()
	c.tracked = slices.DeleteFunc(c.tracked, func(s string) bool { return s == id })
}

func (c *Client) OnMessage(cb MessageCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCbID++
	c.msgCbs = append(c.msgCbs, callbackEntry{id: c.nextCbID, callback: cb})
	return c.nextCbID
}

func (c *Client) RemoveMessageCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.msgCbs = slices.DeleteFunc(c.msgCbs, func(e callbackEntry) bool { return e.id == id })
}

func (c *Client) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCbID++
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: c.nextCbID, callback: cb})
	return c.nextCbID
}

func (c *Client) State() State {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.stateM.Lock()
	c.state = s
	c.stateM.Unlock()

	c.cbM.RLock()
	callbacks := slices.Clone(c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		entry.callback(s)
	}
}

func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.connM.Lock()
	conn := c.conn
	c.conn = nil
	c.connM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}
	c.rootCancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateDisconnected)
		return nil
	}
}

func (c *Client) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Client) buildHeaders() http.Header {
	hdr := http.Header{}
	if c.headers == nil {
		return hdr
	}
	for k, v := range c.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
