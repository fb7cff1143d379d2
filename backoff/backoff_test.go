package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blakecragen/cluster/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{40, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestJitter_WithinBounds(t *testing.T) {
	j := backoff.NewJitter(time.Second, 10*time.Second)
	seen := make(map[time.Duration]bool)
	for attempt := 1; attempt <= 6; attempt++ {
		for range 50 {
			d := j.Delay(attempt)
			if d < 0 || d > 10*time.Second {
				t.Fatalf("Delay(%d) = %v out of [0, 10s]", attempt, d)
			}
			seen[d] = true
		}
	}
	if len(seen) < 2 {
		t.Errorf("expected jittered delays, got %d distinct values", len(seen))
	}
}

func TestDefaultStrategy(t *testing.T) {
	d := backoff.DefaultStrategy().Delay(1)
	if d < 0 || d > time.Second {
		t.Errorf("Delay(1) = %v, want within [0, 1s]", d)
	}
}

// ──────────────────────────────────────────────────
// Wait / Retry
// ──────────────────────────────────────────────────

func TestWait_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := backoff.Wait(ctx, backoff.NewConstant(time.Hour), 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := backoff.Retry(context.Background(), backoff.NewConstant(time.Millisecond), 0, nil,
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("unreachable")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := backoff.Retry(context.Background(), backoff.NewConstant(time.Millisecond), 0,
		func(err error) bool { return !errors.Is(err, permanent) },
		func(context.Context) error {
			calls++
			return permanent
		})
	if !errors.Is(err, permanent) {
		t.Fatalf("Retry = %v, want permanent error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_MaxAttempts(t *testing.T) {
	calls := 0
	err := backoff.Retry(context.Background(), backoff.NewConstant(time.Millisecond), 4, nil,
		func(context.Context) error {
			calls++
			return errors.New("down")
		})
	if err == nil {
		t.Fatal("expected error after max attempts")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}
