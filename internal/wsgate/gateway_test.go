package wsgate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/internal/arena"
	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/chess"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

type fixture struct {
	srv   *httptest.Server
	o     *arena.Orchestrator
	hub   *Hub
	store *pvpchess.RedisStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store := pvpchess.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	cfg := arena.DefaultConfig()
	cfg.StartDelay = time.Hour
	cfg.DisconnectGrace = 100 * time.Millisecond
	hub := NewHub(nil)
	o, err := arena.New(arena.Deps{Store: store, Oracle: chess.NewRulesOracle(), Publisher: hub, Config: cfg})
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	srv := httptest.NewServer(New(o, hub, auth.HeaderVerifier{}, cat, Options{}))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.Close(ctx)
		_ = store.Close()
	})
	return &fixture{srv: srv, o: o, hub: hub, store: store}
}

func (f *fixture) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	h := http.Header{}
	h.Set(auth.UserHeader, user)
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func send(t *testing.T, c *websocket.Conn, in chessdto.Inbound) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c, in); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// await reads frames until one of type typ arrives.
func await(t *testing.T, c *websocket.Conn, typ string) chessdto.Outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var f chessdto.Outbound
		if err := wsjson.Read(ctx, c, &f); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func (f *fixture) startGame(t *testing.T) (white, black *websocket.Conn, id string) {
	t.Helper()
	white = f.dial(t, "white-1")
	black = f.dial(t, "black-1")

	send(t, white, chessdto.Inbound{Type: chessdto.TypeCreateSession, RequestID: "r1", TimeControl: 5})
	created := await(t, white, chessdto.TypeSessionCreated)
	if created.RequestID != "r1" {
		t.Fatalf("request id not echoed: %+v", created)
	}
	var snap chessdto.Snapshot
	if err := created.Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id = snap.SessionID

	send(t, black, chessdto.Inbound{Type: chessdto.TypeJoinSession, SessionID: id})
	await(t, black, chessdto.TypeSessionStarted)
	await(t, white, chessdto.TypeSessionStarted)
	return white, black, id
}

func TestGateway_Unauthenticated(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestGateway_GameFlow(t *testing.T) {
	f := newFixture(t)
	white, black, id := f.startGame(t)

	send(t, white, chessdto.Inbound{Type: chessdto.TypeSubmitMove, SessionID: id, Move: "e2e4"})
	applied := await(t, black, chessdto.TypeMoveApplied)
	var mv chessdto.MoveApplied
	_ = applied.Decode(&mv)
	if mv.Move.UCI != "e2e4" || mv.Move.SAN != "e4" || mv.Turn != "black" {
		t.Fatalf("unexpected move_applied: %+v", mv)
	}

	// Out of turn: only the caller hears about it.
	send(t, white, chessdto.Inbound{Type: chessdto.TypeSubmitMove, RequestID: "bad", SessionID: id, Move: "d2d4"})
	rej := await(t, white, chessdto.TypeMoveRejected)
	var de chessdto.DomainError
	_ = rej.Decode(&de)
	if rej.RequestID != "bad" || de.Code != "RULE" || de.Reason != pvpchess.ReasonNotYourTurn || de.Message == "" || de.FEN == "" {
		t.Fatalf("unexpected rejection: %+v %+v", rej, de)
	}
	if de.FEN != mv.FEN {
		t.Fatalf("move_rejected should carry the authoritative position %q, got %q", mv.FEN, de.FEN)
	}

	// Non-move rejections keep the generic frame.
	send(t, white, chessdto.Inbound{Type: chessdto.TypeAcceptDraw, RequestID: "nodraw", SessionID: id})
	if other := await(t, white, chessdto.TypeRejected); other.RequestID != "nodraw" {
		t.Fatalf("unexpected rejected frame: %+v", other)
	}

	send(t, black, chessdto.Inbound{Type: chessdto.TypeSendChat, SessionID: id, Text: "gl"})
	chat := await(t, white, chessdto.TypeChatMessage)
	var cm chessdto.ChatMessage
	_ = chat.Decode(&cm)
	if cm.Actor != "black-1" || cm.Text != "gl" {
		t.Fatalf("unexpected chat: %+v", cm)
	}

	send(t, black, chessdto.Inbound{Type: chessdto.TypeResign, SessionID: id})
	concluded := await(t, white, chessdto.TypeSessionConcluded)
	var sc chessdto.SessionConcluded
	_ = concluded.Decode(&sc)
	if sc.Status != "WHITE_WINS_RESIGNATION" || sc.Winner != "white-1" {
		t.Fatalf("unexpected conclusion: %+v", sc)
	}
}

func TestGateway_Observer(t *testing.T) {
	f := newFixture(t)
	white, _, id := f.startGame(t)
	watcher := f.dial(t, "watcher")

	send(t, watcher, chessdto.Inbound{Type: chessdto.TypeObserve, SessionID: id})
	state := await(t, watcher, chessdto.TypeSessionState)
	var snap chessdto.Snapshot
	_ = state.Decode(&snap)
	if snap.Status != "ACTIVE" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if n := f.hub.Subscribers(id); n != 3 {
		t.Fatalf("expected both players and the watcher subscribed, got %d", n)
	}
	send(t, white, chessdto.Inbound{Type: chessdto.TypeSubmitMove, SessionID: id, Move: "Nf3"})
	await(t, watcher, chessdto.TypeMoveApplied)

	send(t, watcher, chessdto.Inbound{Type: chessdto.TypeSendChat, SessionID: id, Text: "hi"})
	rej := await(t, watcher, chessdto.TypeRejected)
	var de chessdto.DomainError
	_ = rej.Decode(&de)
	if de.Reason != pvpchess.ReasonNotParticipant {
		t.Fatalf("observers cannot chat: %+v", de)
	}
}

func TestGateway_RateLimit(t *testing.T) {
	f := newFixture(t)
	white, _, id := f.startGame(t)

	for i := 0; i < 4; i++ {
		send(t, white, chessdto.Inbound{Type: chessdto.TypeSubmitMove, SessionID: id, Move: "zz"})
	}
	adv := await(t, white, chessdto.TypeAdvisory)
	var a chessdto.Advisory
	_ = adv.Decode(&a)
	if a.Code != advisoryRateLimited || a.Message == "" {
		t.Fatalf("unexpected advisory: %+v", a)
	}
}

func TestGateway_DisconnectAbandonsAfterGrace(t *testing.T) {
	f := newFixture(t)
	white, black, id := f.startGame(t)

	_ = black.Close(websocket.StatusNormalClosure, "bye")
	concluded := await(t, white, chessdto.TypeSessionConcluded)
	var sc chessdto.SessionConcluded
	_ = concluded.Decode(&sc)
	if sc.Status != "ABANDONED" || sc.Reason != pvpchess.AbandonDisconnect {
		t.Fatalf("unexpected conclusion: %+v", sc)
	}
	s, err := f.store.Load(context.Background(), id)
	if err != nil || s.Status != pvpchess.StatusAbandoned {
		t.Fatalf("expected abandoned session, got %+v %v", s, err)
	}
}

func TestGateway_ReconnectCancelsAbandonment(t *testing.T) {
	f := newFixture(t)
	white, black, id := f.startGame(t)

	// A second connection of the same user keeps them online.
	spare := f.dial(t, "black-1")
	_ = black.Close(websocket.StatusNormalClosure, "bye")
	time.Sleep(300 * time.Millisecond)
	if f.o.DisconnectPending(id) {
		t.Fatalf("user still online elsewhere must not be supervised")
	}

	send(t, spare, chessdto.Inbound{Type: chessdto.TypeReconnect, SessionID: id})
	state := await(t, spare, chessdto.TypeSessionState)
	var snap chessdto.Snapshot
	_ = state.Decode(&snap)
	if snap.Status != "ACTIVE" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	send(t, white, chessdto.Inbound{Type: chessdto.TypeSubmitMove, SessionID: id, Move: "e4"})
	await(t, spare, chessdto.TypeMoveApplied)
}
