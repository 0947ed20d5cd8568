package arena

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/chess"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

// MaxChatRunes bounds a single chat message.
const MaxChatRunes = 500

// Deps wires an Orchestrator. Store and Oracle are required.
type Deps struct {
	Store     pvpchess.Store
	Oracle    chess.Oracle
	Publisher Publisher
	// Repo enables ratings and the result archive when set.
	Repo           pvpchess.Repository
	Clock          clockwork.Clock
	Logger         *zap.Logger
	Config         Config
	Messages       Messages
	MutatorOptions []pvpchess.MutatorOption
}

// Orchestrator drives live sessions: it accepts participant intents, runs
// each active session's clock and supervises liveness.
type Orchestrator struct {
	store     pvpchess.Store
	mutator   *pvpchess.Mutator
	publisher Publisher
	repo      pvpchess.Repository
	clock     clockwork.Clock
	logger    *zap.Logger
	cfg       Config
	messages  Messages
	tracker   *ActivityTracker

	lifecycles *registry

	root   context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("arena: store is required")
	}
	if deps.Oracle == nil {
		return nil, errors.New("arena: oracle is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = obslog.L()
	}
	pub := deps.Publisher
	if pub == nil {
		pub = nopPublisher{}
	}
	cfg := deps.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()

	opts := append([]pvpchess.MutatorOption{
		pvpchess.WithClock(clock),
		pvpchess.WithLogger(logger),
	}, deps.MutatorOptions...)

	root, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:      deps.Store,
		mutator:    pvpchess.NewMutator(deps.Store, deps.Oracle, opts...),
		publisher:  pub,
		repo:       deps.Repo,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
		messages:   deps.Messages,
		tracker:    NewActivityTracker(clock),
		lifecycles: newRegistry(),
		root:       root,
		cancel:     cancel,
	}
	o.mutator.OnCommit(o.onCommit)
	if deps.Repo != nil {
		o.mutator.OnCommit(pvpchess.NewRatingUpdater(deps.Repo, logger).Hook)
		o.mutator.OnCommit(pvpchess.NewArchiver(deps.Repo, logger).Hook)
	}
	return o, nil
}

// Config returns the effective timings.
func (o *Orchestrator) Config() Config { return o.cfg }

// Tracker exposes the activity tracker.
func (o *Orchestrator) Tracker() *ActivityTracker { return o.tracker }

// Create opens a pending session with actor as white.
func (o *Orchestrator) Create(ctx context.Context, actor string, timeControl int) (*pvpchess.Session, error) {
	s, err := pvpchess.NewSession(uuid.NewString(), actor, timeControl, o.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := o.store.Create(ctx, s); err != nil {
		return nil, pvpchess.Classify(err)
	}
	o.tracker.Touch(s.ID, s.WhiteID)
	o.logger.Info("arena_session_created",
		zap.String("session_id", s.ID),
		zap.String("creator", s.CreatorID),
		zap.Int("time_control", s.TimeControl),
	)
	return s, nil
}

// Join seats actor as black and starts the clock after the start delay.
func (o *Orchestrator) Join(ctx context.Context, actor, id string) (*pvpchess.Session, error) {
	return o.apply(ctx, id, actor, pvpchess.Intent{Kind: pvpchess.IntentJoin})
}

// Move submits a move in UCI or SAN.
func (o *Orchestrator) Move(ctx context.Context, actor, id, move string) (*pvpchess.Session, error) {
	return o.apply(ctx, id, actor, pvpchess.Intent{Kind: pvpchess.IntentMove, Move: move})
}

func (o *Orchestrator) Resign(ctx context.Context, actor, id string) (*pvpchess.Session, error) {
	return o.apply(ctx, id, actor, pvpchess.Intent{Kind: pvpchess.IntentResign})
}

func (o *Orchestrator) OfferDraw(ctx context.Context, actor, id string) (*pvpchess.Session, error) {
	return o.apply(ctx, id, actor, pvpchess.Intent{Kind: pvpchess.IntentOfferDraw})
}

func (o *Orchestrator) AcceptDraw(ctx context.Context, actor, id string) (*pvpchess.Session, error) {
	return o.apply(ctx, id, actor, pvpchess.Intent{Kind: pvpchess.IntentAcceptDraw})
}

func (o *Orchestrator) apply(ctx context.Context, id, actor string, in pvpchess.Intent) (*pvpchess.Session, error) {
	t, err := o.mutator.Apply(ctx, id, actor, in)
	if err != nil {
		return nil, err
	}
	if t.Session.IsParticipant(actor) {
		o.tracker.Touch(id, actor)
	}
	return t.Session, nil
}

// Heartbeat records liveness for a participant without touching the session.
func (o *Orchestrator) Heartbeat(ctx context.Context, actor, id string) error {
	s, err := o.load(ctx, id)
	if err != nil {
		return err
	}
	if !s.IsParticipant(actor) {
		return &pvpchess.Rejection{Kind: pvpchess.KindRule, Reason: pvpchess.ReasonNotParticipant, Position: s.FEN, Status: s.Status}
	}
	o.tracker.Touch(id, actor)
	return nil
}

// Observe returns the current snapshot. Anyone may observe.
func (o *Orchestrator) Observe(ctx context.Context, id string) (*pvpchess.Session, error) {
	return o.load(ctx, id)
}

// Chat relays a participant message to everyone watching the session.
func (o *Orchestrator) Chat(ctx context.Context, actor, id, text string) error {
	s, err := o.load(ctx, id)
	if err != nil {
		return err
	}
	if !s.IsParticipant(actor) {
		return &pvpchess.Rejection{Kind: pvpchess.KindRule, Reason: pvpchess.ReasonNotParticipant, Position: s.FEN, Status: s.Status}
	}
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n == 0 || n > MaxChatRunes {
		return &pvpchess.Rejection{
			Kind:   pvpchess.KindValidation,
			Reason: pvpchess.ReasonInvalidChat,
			Status: s.Status,
			Err:    fmt.Errorf("chat length %d", n),
		}
	}
	o.tracker.Touch(id, actor)
	o.publish(id, chessdto.TypeChatMessage, chessdto.ChatMessage{Actor: actor, Text: text, At: o.clock.Now()})
	return nil
}

// Disconnect is called when a participant's last connection drops. The
// session is abandoned unless the participant reconnects within the grace.
func (o *Orchestrator) Disconnect(ctx context.Context, actor, id string) {
	s, err := o.store.Load(ctx, id)
	if err != nil {
		o.logger.Warn("arena_disconnect_load_error",
			zap.String("session_id", id),
			zap.String("participant", actor),
			zap.Error(err),
		)
		return
	}
	if s.Status != pvpchess.StatusActive || !s.IsParticipant(actor) {
		return
	}
	o.scheduleDisconnect(id, actor)
}

// Reconnect returns the authoritative snapshot. For a participant it also
// cancels a pending disconnection and makes sure the clock is running here.
func (o *Orchestrator) Reconnect(ctx context.Context, actor, id string) (*pvpchess.Session, error) {
	s, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.IsParticipant(actor) {
		return s, nil
	}
	o.cancelDisconnect(id)
	o.tracker.Touch(id, actor)
	if s.Status == pvpchess.StatusActive {
		o.startClock(id, 0)
	}
	return s, nil
}

// Resume adopts the clocks of every active session, e.g. after a restart.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	ids, err := o.store.ListActive(ctx, o.clock.Now(), 0)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	n := 0
	for _, id := range ids {
		if o.startClock(id, 0) {
			n++
		}
	}
	if n > 0 {
		o.logger.Info("arena_resumed", zap.Int("sessions", n))
	}
	return n, nil
}

// Close stops every clock driver and pending disconnection, then waits for
// the drivers to exit or ctx to end.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.lifecycles.releaseAll()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrNoRepository is returned by Profile when ratings are disabled.
var ErrNoRepository = errors.New("arena: no profile repository configured")

// Profile returns the rating profile of playerID, or a fresh default profile
// for a player who has not finished a rated session yet.
func (o *Orchestrator) Profile(ctx context.Context, playerID string) (*domain.Profile, error) {
	if o.repo == nil {
		return nil, ErrNoRepository
	}
	p, err := o.repo.GetProfile(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = domain.NewProfile(playerID, o.clock.Now())
	}
	return p, nil
}

func (o *Orchestrator) load(ctx context.Context, id string) (*pvpchess.Session, error) {
	s, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, pvpchess.Classify(err)
	}
	return s, nil
}

// onCommit turns committed transitions into broadcasts and lifecycle changes.
func (o *Orchestrator) onCommit(_ context.Context, t *pvpchess.Transition) {
	s := t.Session
	switch t.Intent.Kind {
	case pvpchess.IntentJoin:
		o.tracker.Touch(s.ID, s.WhiteID)
		o.tracker.Touch(s.ID, s.BlackID)
		o.publish(s.ID, chessdto.TypeSessionStarted, SnapshotOf(s))
		o.startClock(s.ID, o.cfg.StartDelay)
	case pvpchess.IntentMove:
		if last := s.LastMove(); last != nil {
			o.publish(s.ID, chessdto.TypeMoveApplied, chessdto.MoveApplied{
				Actor:     t.Actor,
				Move:      moveRecord(*last),
				FEN:       s.FEN,
				Turn:      string(s.Turn),
				Status:    string(s.Status),
				WhiteTime: s.WhiteTime,
				BlackTime: s.BlackTime,
			})
		}
	case pvpchess.IntentOfferDraw:
		o.publish(s.ID, chessdto.TypeDrawOffered, chessdto.DrawOffered{Actor: t.Actor})
	}
	if t.Concluded() {
		o.publish(s.ID, chessdto.TypeSessionConcluded, concludedOf(t))
		o.lifecycles.release(s.ID)
	}
}

func (o *Orchestrator) publish(id, typ string, data any) {
	frame, err := chessdto.NewOutbound(typ, id, data)
	if err != nil {
		o.logger.Error("arena_encode_error", zap.String("type", typ), zap.Error(err))
		return
	}
	o.publisher.Broadcast(id, frame)
}
