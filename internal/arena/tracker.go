package arena

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type activityKey struct {
	session     string
	participant string
}

// ActivityTracker records the last liveness signal per (session, participant).
// Writers overwrite atomically; readers always compare against a threshold, so
// a stale value is harmless. Entries live until Reset.
type ActivityTracker struct {
	clock clockwork.Clock
	seen  sync.Map // activityKey -> time.Time
}

func NewActivityTracker(clock clockwork.Clock) *ActivityTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ActivityTracker{clock: clock}
}

// Touch records activity now and returns the recorded time.
func (t *ActivityTracker) Touch(session, participant string) time.Time {
	now := t.clock.Now()
	t.seen.Store(activityKey{session, participant}, now)
	return now
}

// LastSeen returns the last recorded activity.
func (t *ActivityTracker) LastSeen(session, participant string) (time.Time, bool) {
	v, ok := t.seen.Load(activityKey{session, participant})
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// FreshSince reports whether participant was seen after cutoff.
func (t *ActivityTracker) FreshSince(session, participant string, cutoff time.Time) bool {
	last, ok := t.LastSeen(session, participant)
	return ok && last.After(cutoff)
}

// Reset drops every entry.
func (t *ActivityTracker) Reset() {
	t.seen.Clear()
}
