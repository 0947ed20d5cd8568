package wsgate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/arena"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

const advisoryRateLimited = "rate_limited"

func (g *Gateway) dispatch(ctx context.Context, c *conn, in chessdto.Inbound) {
	if !c.limiter.Allow(in.Type) {
		adv := chessdto.Advisory{Code: advisoryRateLimited, Message: "rate limited"}
		if g.messages != nil {
			if text, err := g.messages.Render("advisory.rate_limited", map[string]any{"Action": in.Type}); err == nil {
				adv.Message = text
			}
		}
		g.reply(c, in, chessdto.TypeAdvisory, adv)
		return
	}
	id := strings.TrimSpace(in.SessionID)

	var (
		s   *pvpchess.Session
		err error
	)
	switch in.Type {
	case chessdto.TypeCreateSession:
		s, err = g.arena.Create(ctx, c.user, in.TimeControl)
		if err == nil {
			g.follow(c, s)
			g.reply(c, in, chessdto.TypeSessionCreated, arena.SnapshotOf(s))
		}
	case chessdto.TypeJoinSession:
		// Subscribe first so the joiner receives session_started.
		added := g.hub.subscribe(id, c)
		s, err = g.arena.Join(ctx, c.user, id)
		if err != nil && added {
			g.hub.unsubscribe(id, c)
		} else if err == nil {
			g.follow(c, s)
		}
	case chessdto.TypeSubmitMove:
		s, err = g.arena.Move(ctx, c.user, id, in.Move)
	case chessdto.TypeResign:
		s, err = g.arena.Resign(ctx, c.user, id)
	case chessdto.TypeOfferDraw:
		s, err = g.arena.OfferDraw(ctx, c.user, id)
	case chessdto.TypeAcceptDraw:
		s, err = g.arena.AcceptDraw(ctx, c.user, id)
	case chessdto.TypeHeartbeat:
		err = g.arena.Heartbeat(ctx, c.user, id)
	case chessdto.TypeSendChat:
		err = g.arena.Chat(ctx, c.user, id, in.Text)
	case chessdto.TypeReconnect:
		s, err = g.arena.Reconnect(ctx, c.user, id)
		if err == nil {
			g.follow(c, s)
			g.reply(c, in, chessdto.TypeSessionState, arena.SnapshotOf(s))
		}
	case chessdto.TypeObserve:
		s, err = g.arena.Observe(ctx, id)
		if err == nil {
			g.follow(c, s)
			g.reply(c, in, chessdto.TypeSessionState, arena.SnapshotOf(s))
		}
	default:
		err = &pvpchess.Rejection{Kind: pvpchess.KindValidation, Reason: pvpchess.ReasonInvalidIntent}
	}
	if err != nil {
		g.reject(c, in, err)
		return
	}
	if s != nil && s.IsParticipant(c.user) {
		g.follow(c, s)
	}
}

// follow subscribes c to s and remembers whether c's user plays in it.
func (g *Gateway) follow(c *conn, s *pvpchess.Session) {
	g.hub.subscribe(s.ID, c)
	c.watch(s.ID, s.IsParticipant(c.user) && !s.Status.Terminal())
}

func (g *Gateway) reply(c *conn, in chessdto.Inbound, typ string, data any) {
	f, err := chessdto.NewOutbound(typ, in.SessionID, data)
	if err != nil {
		g.logger.Error("ws_encode_error", zap.String("type", typ), zap.Error(err))
		return
	}
	f.RequestID = in.RequestID
	if typ == chessdto.TypeSessionCreated {
		if snap, ok := data.(chessdto.Snapshot); ok {
			f.SessionID = snap.SessionID
		}
	}
	c.send(f)
}

// reject answers the requesting connection only. Refused moves get their own
// frame type so clients can roll back the piece they dragged.
func (g *Gateway) reject(c *conn, in chessdto.Inbound, err error) {
	rej := pvpchess.Classify(err)
	typ := chessdto.TypeRejected
	if in.Type == chessdto.TypeSubmitMove {
		typ = chessdto.TypeMoveRejected
	}
	g.reply(c, in, typ, arena.DomainErrorOf(rej, g.messages))
}
