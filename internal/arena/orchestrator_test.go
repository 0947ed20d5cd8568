package arena

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-arena/internal/chess"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

type recorder struct {
	mu     sync.Mutex
	frames []chessdto.Outbound
}

func (r *recorder) Broadcast(_ string, f chessdto.Outbound) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) ofType(typ string) []chessdto.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []chessdto.Outbound
	for _, f := range r.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

type staticMessages struct{}

func (staticMessages) Render(key string, data any) (string, error) { return key, nil }

type harness struct {
	o     *Orchestrator
	store *pvpchess.RedisStore
	repo  *pvpchess.MemoryRepository
	pub   *recorder
	fc    *clockwork.FakeClock
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	return newHarnessWith(t, mutate, nil)
}

// newHarnessWith lets a test put its own Store in front of the redis store.
func newHarnessWith(t *testing.T, mutate func(*Config), wrap func(*pvpchess.RedisStore) pvpchess.Store) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := pvpchess.NewRedisStoreFromClient(rdb)
	t.Cleanup(func() { _ = store.Close() })

	cfg := DefaultConfig()
	// Keep background drivers parked so tests can step the clock by hand.
	cfg.StartDelay = 24 * time.Hour
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		store: store,
		repo:  pvpchess.NewMemoryRepository(),
		pub:   &recorder{},
		fc:    clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)),
	}
	var front pvpchess.Store = store
	if wrap != nil {
		front = wrap(store)
	}
	o, err := New(Deps{
		Store:     front,
		Oracle:    chess.NewRulesOracle(),
		Publisher: h.pub,
		Repo:      h.repo,
		Clock:     h.fc,
		Config:    cfg,
		Messages:  staticMessages{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})
	h.o = o
	return h
}

func (h *harness) active(t *testing.T, minutes int) *pvpchess.Session {
	t.Helper()
	ctx := context.Background()
	s, err := h.o.Create(ctx, "white-1", minutes)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s, err = h.o.Join(ctx, "black-1", s.ID)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	return s
}

func (h *harness) load(t *testing.T, id string) *pvpchess.Session {
	t.Helper()
	s, err := h.store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestNew_RequiresStoreAndOracle(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestJoin_BroadcastsStartAndRegistersClock(t *testing.T) {
	h := newHarness(t, nil)
	s := h.active(t, 5)

	if s.Status != pvpchess.StatusActive || s.BlackID != "black-1" {
		t.Fatalf("unexpected session after join: %+v", s)
	}
	started := h.pub.ofType(chessdto.TypeSessionStarted)
	if len(started) != 1 {
		t.Fatalf("expected one session_started, got %d", len(started))
	}
	var snap chessdto.Snapshot
	if err := started[0].Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.SessionID != s.ID || snap.Status != "ACTIVE" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	lc, ok := h.o.lifecycles.lookup(s.ID)
	if !ok {
		t.Fatalf("expected lifecycle for active session")
	}
	lc.mu.Lock()
	running := lc.run != nil
	lc.mu.Unlock()
	if !running {
		t.Fatalf("expected clock driver registered")
	}
	if h.o.startClock(s.ID, 0) {
		t.Fatalf("a second clock driver must not start")
	}
}

func TestMove_BroadcastsAndConcludesOnCheckmate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.active(t, 5)

	for i, mv := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		actor := "white-1"
		if i%2 == 1 {
			actor = "black-1"
		}
		if _, err := h.o.Move(ctx, actor, s.ID, mv); err != nil {
			t.Fatalf("move %s: %v", mv, err)
		}
	}
	if n := len(h.pub.ofType(chessdto.TypeMoveApplied)); n != 4 {
		t.Fatalf("expected 4 move_applied, got %d", n)
	}
	concluded := h.pub.ofType(chessdto.TypeSessionConcluded)
	if len(concluded) != 1 {
		t.Fatalf("expected one session_concluded, got %d", len(concluded))
	}
	var c chessdto.SessionConcluded
	_ = concluded[0].Decode(&c)
	if c.Status != "BLACK_WINS_CHECKMATE" || c.Winner != "black-1" || c.Reason != "checkmate" {
		t.Fatalf("unexpected conclusion: %+v", c)
	}
	if h.o.lifecycles.size() != 0 {
		t.Fatalf("lifecycle should be released on conclusion")
	}
	if _, ok := h.repo.Result(s.ID); !ok {
		t.Fatalf("result should be archived")
	}
}

func TestDrawAgreement(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.active(t, 5)

	if _, err := h.o.AcceptDraw(ctx, "black-1", s.ID); !pvpchess.IsReason(err, pvpchess.ReasonNoDrawOffer) {
		t.Fatalf("expected no_draw_offer, got %v", err)
	}
	if _, err := h.o.OfferDraw(ctx, "white-1", s.ID); err != nil {
		t.Fatalf("OfferDraw: %v", err)
	}
	if n := len(h.pub.ofType(chessdto.TypeDrawOffered)); n != 1 {
		t.Fatalf("expected draw_offered broadcast, got %d", n)
	}
	got, err := h.o.AcceptDraw(ctx, "black-1", s.ID)
	if err != nil {
		t.Fatalf("AcceptDraw: %v", err)
	}
	if got.Status != pvpchess.StatusDraw {
		t.Fatalf("expected DRAW, got %s", got.Status)
	}
	var c chessdto.SessionConcluded
	_ = h.pub.ofType(chessdto.TypeSessionConcluded)[0].Decode(&c)
	if c.Reason != "agreement" {
		t.Fatalf("expected agreement, got %q", c.Reason)
	}
}

func TestChat(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.active(t, 5)

	if err := h.o.Chat(ctx, "white-1", s.ID, "  good luck  "); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	msgs := h.pub.ofType(chessdto.TypeChatMessage)
	if len(msgs) != 1 {
		t.Fatalf("expected one chat frame, got %d", len(msgs))
	}
	var m chessdto.ChatMessage
	_ = msgs[0].Decode(&m)
	if m.Text != "good luck" || m.Actor != "white-1" {
		t.Fatalf("unexpected chat: %+v", m)
	}

	if err := h.o.Chat(ctx, "spectator", s.ID, "hi"); !pvpchess.IsReason(err, pvpchess.ReasonNotParticipant) {
		t.Fatalf("expected not_participant, got %v", err)
	}
	if err := h.o.Chat(ctx, "white-1", s.ID, "   "); !pvpchess.IsReason(err, pvpchess.ReasonInvalidChat) {
		t.Fatalf("expected invalid_chat for blank text, got %v", err)
	}
	if err := h.o.Chat(ctx, "white-1", s.ID, strings.Repeat("가", MaxChatRunes+1)); !pvpchess.IsReason(err, pvpchess.ReasonInvalidChat) {
		t.Fatalf("expected invalid_chat for long text, got %v", err)
	}
}

func TestObserveAndHeartbeat(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.active(t, 5)

	got, err := h.o.Observe(ctx, s.ID)
	if err != nil || got.ID != s.ID {
		t.Fatalf("Observe: %v", err)
	}
	if _, err := h.o.Observe(ctx, "missing"); !pvpchess.IsReason(err, pvpchess.ReasonSessionNotFound) {
		t.Fatalf("expected session_not_found, got %v", err)
	}

	h.fc.Advance(30 * time.Second)
	if err := h.o.Heartbeat(ctx, "black-1", s.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	last, ok := h.o.Tracker().LastSeen(s.ID, "black-1")
	if !ok || !last.Equal(h.fc.Now()) {
		t.Fatalf("heartbeat should refresh activity, got %v", last)
	}
	if err := h.o.Heartbeat(ctx, "spectator", s.ID); !pvpchess.IsReason(err, pvpchess.ReasonNotParticipant) {
		t.Fatalf("expected not_participant, got %v", err)
	}
}

func TestCreate_InvalidTimeControl(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.o.Create(context.Background(), "white-1", 0)
	if !pvpchess.IsReason(err, pvpchess.ReasonInvalidTimeControl) {
		t.Fatalf("expected invalid_time_control, got %v", err)
	}
}

func TestProfile_DefaultsForNewPlayer(t *testing.T) {
	h := newHarness(t, nil)
	p, err := h.o.Profile(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.Rating != 1200 || p.GamesPlayed != 0 {
		t.Fatalf("unexpected default profile: %+v", p)
	}
}

func TestResume_AdoptsActiveSessions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.active(t, 5)
	h.o.lifecycles.release(s.ID)

	n, err := h.o.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one adopted session, got %d", n)
	}
	if n, _ := h.o.Resume(ctx); n != 0 {
		t.Fatalf("already running sessions must not be adopted twice, got %d", n)
	}
}

func TestClose_StopsDrivers(t *testing.T) {
	h := newHarness(t, nil)
	h.active(t, 5)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.o.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.o.startClock("other", 0) {
		t.Fatalf("no driver may start after Close")
	}
}
