// Package wsgate is the websocket front of the arena: it authenticates
// connections, admits frames through per-connection rate limits, dispatches
// them to the orchestrator and fans session events back out.
package wsgate

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/internal/arena"
	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/internal/ratelimit"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

// Arena is the subset of the orchestrator the gateway drives.
type Arena interface {
	Create(ctx context.Context, actor string, timeControl int) (*pvpchess.Session, error)
	Join(ctx context.Context, actor, id string) (*pvpchess.Session, error)
	Move(ctx context.Context, actor, id, move string) (*pvpchess.Session, error)
	Resign(ctx context.Context, actor, id string) (*pvpchess.Session, error)
	OfferDraw(ctx context.Context, actor, id string) (*pvpchess.Session, error)
	AcceptDraw(ctx context.Context, actor, id string) (*pvpchess.Session, error)
	Heartbeat(ctx context.Context, actor, id string) error
	Observe(ctx context.Context, id string) (*pvpchess.Session, error)
	Reconnect(ctx context.Context, actor, id string) (*pvpchess.Session, error)
	Chat(ctx context.Context, actor, id, text string) error
	Disconnect(ctx context.Context, actor, id string)
}

// TokenVerifier verifies a raw token, for browsers passing ?token=.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type Options struct {
	Origins      []string
	PingInterval time.Duration
	WriteTimeout time.Duration
	Rules        map[string]ratelimit.Rule
	Clock        clockwork.Clock
	Logger       *zap.Logger
}

type Gateway struct {
	arena    Arena
	hub      *Hub
	verifier auth.Verifier
	messages arena.Messages
	opts     Options
	logger   *zap.Logger
}

func New(a Arena, hub *Hub, verifier auth.Verifier, messages arena.Messages, opts Options) *Gateway {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Rules == nil {
		opts.Rules = ratelimit.DefaultRules()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = obslog.L()
	}
	return &Gateway{arena: a, hub: hub, verifier: verifier, messages: messages, opts: opts, logger: logger}
}

func (g *Gateway) identify(r *http.Request) (string, error) {
	if id, err := g.verifier.Identify(r.Header.Get); err == nil {
		return id, nil
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		if tv, ok := g.verifier.(TokenVerifier); ok {
			return tv.Verify(tok)
		}
	}
	return "", auth.ErrUnauthenticated
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := g.identify(r)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  g.opts.Origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		g.logger.Warn("ws_accept_error", zap.String("user", user), zap.Error(err))
		return
	}
	g.serve(r.Context(), user, ws)
}

func (g *Gateway) serve(parent context.Context, user string, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	c := newConn(user, ws, ratelimit.New(g.opts.Clock, g.opts.Rules), cancel)
	g.hub.register(c)
	g.logger.Info("ws_connected", zap.String("user", user))

	done := make(chan struct{}, 2)
	go func() { g.writeLoop(ctx, c); done <- struct{}{} }()
	go func() { g.pingLoop(ctx, c); done <- struct{}{} }()

	err := g.readLoop(ctx, c)
	cancel()
	<-done
	<-done

	all, playing := c.shutdown()
	online := g.hub.remove(c, all)
	if !online {
		dctx, dcancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
		for _, id := range playing {
			g.arena.Disconnect(dctx, user, id)
		}
		dcancel()
	}
	status := websocket.CloseStatus(err)
	if status == -1 {
		status = websocket.StatusGoingAway
	}
	_ = ws.Close(status, "")
	g.logger.Info("ws_disconnected",
		zap.String("user", user),
		zap.Int("sessions", len(playing)),
		zap.Bool("still_online", online),
	)
}

func (g *Gateway) readLoop(ctx context.Context, c *conn) error {
	for {
		var in chessdto.Inbound
		if err := wsjson.Read(ctx, c.ws, &in); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		g.dispatch(ctx, c, in)
	}
}

func (g *Gateway) writeLoop(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
			err := wsjson.Write(wctx, c.ws, f)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (g *Gateway) pingLoop(ctx context.Context, c *conn) {
	t := g.opts.Clock.NewTicker(g.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				g.logger.Info("ws_ping_failure", zap.String("user", c.user), zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}
