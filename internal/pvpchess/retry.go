package pvpchess

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultAttempts   = 3
	defaultMinBackoff = 50 * time.Millisecond
	defaultMaxBackoff = 200 * time.Millisecond
)

// JitterBackOff waits a uniformly random duration in [Min, Max] between attempts.
type JitterBackOff struct {
	Min, Max time.Duration
}

func (j *JitterBackOff) NextBackOff() time.Duration {
	if j.Max <= j.Min {
		return j.Min
	}
	return j.Min + rand.N(j.Max-j.Min+1)
}

func (j *JitterBackOff) Reset() {}

// DefaultBackOff returns the conflict retry policy used by the Mutator.
func DefaultBackOff() backoff.BackOff {
	return &JitterBackOff{Min: defaultMinBackoff, Max: defaultMaxBackoff}
}

// RetryOnConflict runs op up to attempts times, sleeping per policy between
// tries. Only errors wrapping ErrConflict are retried; anything else is
// returned immediately. When attempts run out the last conflict error is returned.
func RetryOnConflict[T any](ctx context.Context, policy backoff.BackOff, attempts uint, op func() (T, error)) (T, error) {
	if attempts == 0 {
		attempts = defaultAttempts
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, ErrConflict) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(attempts))
}
