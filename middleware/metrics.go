package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/strategy"
)

// Metrics records task metrics on the global MeterProvider.
//
// Instruments:
//   - cluster.task.duration (Float64Histogram, seconds)
//   - cluster.task.executions (Int64Counter)
//
// Both carry the job's base strategy and status "ok" or "error".
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter is Metrics with an explicit meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API returns usable noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"cluster.task.duration",
		metric.WithDescription("Duration of task execution on the agent"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"cluster.task.executions",
		metric.WithDescription("Tasks executed by the agent"),
		metric.WithUnit("{task}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		base, _ := strategy.Parse(j.StrategyName)
		attrs := metric.WithAttributes(
			attribute.String("strategy", base),
			attribute.String("status", status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
