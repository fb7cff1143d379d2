package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/blakecragen/cluster/job"
)

// Logging logs task start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("job_id", j.ID.String()),
			slog.String("name", j.Name),
			slog.String("strategy", j.StrategyName),
		}
		logger.Info("task started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.Error("task failed", append(attrs, slog.String("error", err.Error()))...)
			return err
		}
		logger.Info("task finished", attrs...)
		return nil
	}
}
