package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/blakecragen/cluster/job"
)

// ErrRunnerPanic marks a task that failed because the runner panicked.
var ErrRunnerPanic = errors.New("task runner panicked")

// Recover turns a panic in the runner into an error wrapping
// ErrRunnerPanic, so the job is reported failed instead of taking the agent
// down. A panic value that is itself an error stays reachable through
// errors.Is.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("task runner panicked",
				slog.String("job_id", j.ID.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			if err, ok := r.(error); ok {
				retErr = fmt.Errorf("%w: %w", ErrRunnerPanic, err)
				return
			}
			retErr = fmt.Errorf("%w: %v", ErrRunnerPanic, r)
		}()
		return next(ctx)
	}
}
