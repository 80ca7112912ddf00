// Package retry provides a bounded retry policy with an injectable clock, so
// attempt counts and backoff timing can be tested without real sleeps.
package retry

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// BackoffFunc returns the delay before the given retry. retry is 1 for the first
// retry (second attempt), 2 for the second, and so on.
type BackoffFunc func(retry int) time.Duration

// Linear returns a backoff of step, 2*step, 3*step, ...
func Linear(step time.Duration) BackoffFunc {
	return func(retry int) time.Duration {
		if retry < 1 {
			return 0
		}
		return time.Duration(retry) * step
	}
}

// Exponential returns a backoff of base, 2*base, 4*base, ... capped at max (0 = no cap).
func Exponential(base, max time.Duration) BackoffFunc {
	return func(retry int) time.Duration {
		if retry < 1 {
			return 0
		}
		shift := uint(retry - 1)
		if shift >= 62 {
			return max
		}
		d := base << shift
		if d>>shift != base || d <= 0 || (max > 0 && d > max) {
			return max
		}
		return d
	}
}

// Policy bounds how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first. Values < 1 mean 1.
	MaxAttempts int
	// Backoff computes the wait before each retry. Nil means retry immediately.
	Backoff BackoffFunc
	// Retryable reports whether an error may be retried. Nil means never retry.
	Retryable func(error) bool
	// Clock drives the backoff waits. Nil means the real clock.
	Clock clockwork.Clock
	// OnRetry, when set, is called before each retry wait.
	OnRetry func(retry int, delay time.Duration, err error)
}

// Result describes how Do finished.
type Result struct {
	Attempts int
	// Waited is the total backoff time spent between attempts.
	Waited time.Duration
}

// Do runs fn until it succeeds, returns a non-retryable error, or MaxAttempts is
// reached. The last error is returned unchanged. If ctx is done before or during a
// backoff wait, Do stops and returns ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (Result, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var res Result
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			return res, nil
		}
		if attempt >= maxAttempts || p.Retryable == nil || !p.Retryable(err) {
			return res, err
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-clock.After(delay):
			}
			res.Waited += delay
		}
	}
}
