package pvpchess

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/chess"
	"github.com/park285/cheese-arena/internal/obslog"
)

// CommitHook runs after a transition has been durably committed.
type CommitHook func(ctx context.Context, t *Transition)

// Mutator is the only writer of sessions. Every intent is validated against a
// fresh read inside a store transaction and retried on write conflicts.
type Mutator struct {
	store    Store
	oracle   chess.Oracle
	clock    clockwork.Clock
	policy   func() backoff.BackOff
	attempts uint
	logger   *zap.Logger
	hooks    []CommitHook
}

type MutatorOption func(*Mutator)

func WithClock(c clockwork.Clock) MutatorOption {
	return func(m *Mutator) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithBackOff sets the policy factory used between conflicting attempts.
func WithBackOff(policy func() backoff.BackOff) MutatorOption {
	return func(m *Mutator) {
		if policy != nil {
			m.policy = policy
		}
	}
}

func WithAttempts(n uint) MutatorOption {
	return func(m *Mutator) {
		if n > 0 {
			m.attempts = n
		}
	}
}

func WithLogger(l *zap.Logger) MutatorOption {
	return func(m *Mutator) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewMutator(store Store, oracle chess.Oracle, opts ...MutatorOption) *Mutator {
	m := &Mutator{
		store:    store,
		oracle:   oracle,
		clock:    clockwork.NewRealClock(),
		policy:   DefaultBackOff,
		attempts: defaultAttempts,
		logger:   obslog.L(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnCommit registers a hook. Hooks run in registration order, synchronously,
// only after a successful commit. Register hooks before the first Apply.
func (m *Mutator) OnCommit(h CommitHook) {
	if h != nil {
		m.hooks = append(m.hooks, h)
	}
}

// Clock returns the clock used to stamp commits.
func (m *Mutator) Clock() clockwork.Clock { return m.clock }

// Apply validates and commits in against the current state of session id.
// Every failure is a *Rejection.
func (m *Mutator) Apply(ctx context.Context, id, actor string, in Intent) (*Transition, error) {
	var prev *Session
	committed, err := RetryOnConflict(ctx, m.policy(), m.attempts, func() (*Session, error) {
		return m.store.Update(ctx, id, func(cur *Session) error {
			before := cur.Clone()
			if err := advance(cur, actor, in, m.oracle, m.clock.Now()); err != nil {
				return err
			}
			prev = before
			return nil
		})
	})
	if err != nil {
		rej := Classify(err)
		m.logger.Debug("arena_intent_rejected",
			zap.String("session_id", id),
			zap.String("actor", actor),
			zap.String("intent", string(in.Kind)),
			zap.String("kind", string(rej.Kind)),
			zap.String("reason", rej.Reason),
		)
		return nil, rej
	}

	t := &Transition{Session: committed, Previous: prev, Intent: in, Actor: actor}
	if in.Kind != IntentTick && in.Kind != IntentTouch {
		m.logger.Info("arena_commit",
			zap.String("session_id", id),
			zap.String("actor", actor),
			zap.String("intent", string(in.Kind)),
			zap.String("status", string(committed.Status)),
			zap.Int64("version", committed.Version),
		)
	}
	hookCtx := context.WithoutCancel(ctx)
	for _, h := range m.hooks {
		h(hookCtx, t)
	}
	return t, nil
}

// Classify maps any store or mutator error onto a Rejection.
func Classify(err error) *Rejection {
	if err == nil {
		return nil
	}
	if rej, ok := AsRejection(err); ok {
		return rej
	}
	switch {
	case errors.Is(err, ErrConflict):
		return &Rejection{Kind: KindConflictExhausted, Reason: ReasonConflict, Err: err}
	case errors.Is(err, ErrSessionNotFound):
		return &Rejection{Kind: KindNotFound, Reason: ReasonSessionNotFound, Err: err}
	}
	return &Rejection{Kind: KindStoreUnavailable, Reason: ReasonStore, Err: err}
}
