package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blakecragen/cluster/job"
)

// instrumentationName scopes the tracer and meter of this package.
const instrumentationName = "github.com/blakecragen/cluster/agent"

// Tracing wraps task execution in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer is Tracing with an explicit tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "cluster.task.run",
			trace.WithAttributes(
				attribute.String("cluster.job.id", j.ID.String()),
				attribute.String("cluster.job.name", j.Name),
				attribute.String("cluster.job.strategy", j.StrategyName),
				attribute.Int("cluster.job.priority", j.Priority),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
