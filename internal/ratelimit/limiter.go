// Package ratelimit implements per-connection fixed-window admission limits.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/park285/cheese-arena/pkg/chessdto"
)

// Rule allows Limit events per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules are the per-connection limits for inbound frames.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		chessdto.TypeSubmitMove:  {Limit: 3, Window: time.Second},
		chessdto.TypeSendChat:    {Limit: 5, Window: 5 * time.Second},
		chessdto.TypeJoinSession: {Limit: 5, Window: 30 * time.Second},
	}
}

type window struct {
	start time.Time
	count int
}

// Limiter counts events per kind in fixed windows. A window opens on the
// first event and resets once Window has elapsed. Kinds without a rule are
// always allowed. Safe for concurrent use.
type Limiter struct {
	clock clockwork.Clock
	rules map[string]Rule

	mu      sync.Mutex
	windows map[string]*window
}

func New(clock clockwork.Clock, rules map[string]Rule) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rules == nil {
		rules = DefaultRules()
	}
	return &Limiter{clock: clock, rules: rules, windows: make(map[string]*window)}
}

// Allow records one event of kind and reports whether it is admitted.
func (l *Limiter) Allow(kind string) bool {
	rule, ok := l.rules[kind]
	if !ok || rule.Limit <= 0 {
		return true
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[kind]
	if !ok || now.Sub(w.start) >= rule.Window {
		l.windows[kind] = &window{start: now, count: 1}
		return true
	}
	if w.count >= rule.Limit {
		return false
	}
	w.count++
	return true
}

// RetryAfter returns how long until kind is admitted again.
func (l *Limiter) RetryAfter(kind string) time.Duration {
	rule, ok := l.rules[kind]
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[kind]
	if !ok || w.count < rule.Limit {
		return 0
	}
	if d := rule.Window - l.clock.Since(w.start); d > 0 {
		return d
	}
	return 0
}
