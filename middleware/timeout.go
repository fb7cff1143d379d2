package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blakecragen/cluster/job"
)

// Timeout cancels the task context after d. A zero d disables the limit.
// A task that overruns fails with a message naming the limit.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		err := next(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("task exceeded time limit %s: %w", d, err)
		}
		return err
	}
}
