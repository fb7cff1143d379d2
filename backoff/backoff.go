// Package backoff computes how long an agent waits before retrying a call
// to the coordinator. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration { return c.Interval }

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt up to Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return time.Duration(capped(e.Initial, e.Max, attempt))
}

// ──────────────────────────────────────────────────
// Jitter
// ──────────────────────────────────────────────────

// Jitter applies full jitter to an exponential base so that agents
// restarted together do not retry in lockstep.
type Jitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewJitter creates an exponential backoff with full jitter.
func NewJitter(initial, maxDelay time.Duration) *Jitter {
	return &Jitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (j *Jitter) Delay(attempt int) time.Duration {
	return time.Duration(rand.Float64() * capped(j.Initial, j.Max, attempt)) //nolint:gosec // jitter does not need crypto rand
}

func capped(initial, maxDelay time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		return float64(maxDelay)
	}
	return d
}

// DefaultStrategy is what the agent uses when none is configured: full
// jitter from 1s up to 30s.
func DefaultStrategy() Strategy {
	return NewJitter(time.Second, 30*time.Second)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// Wait sleeps for s.Delay(attempt) or until ctx is done.
func Wait(ctx context.Context, s Strategy, attempt int) error {
	d := s.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn until it succeeds, returns an error retryable rejects, or
// ctx is done. maxAttempts <= 0 retries forever. The last error is
// returned.
func Retry(ctx context.Context, s Strategy, maxAttempts int, retryable func(error) bool, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return err
		}
		if waitErr := Wait(ctx, s, attempt); waitErr != nil {
			return err
		}
	}
}
