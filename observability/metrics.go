package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/blakecragen/cluster/ext"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/worker"
)

// meterName is the instrumentation scope name for coordinator metrics.
const meterName = "github.com/blakecragen/cluster"

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.JobSubmitted     = (*MetricsExtension)(nil)
	_ ext.JobAssigned      = (*MetricsExtension)(nil)
	_ ext.JobStarted       = (*MetricsExtension)(nil)
	_ ext.JobCompleted     = (*MetricsExtension)(nil)
	_ ext.JobFailed        = (*MetricsExtension)(nil)
	_ ext.JobRequeued      = (*MetricsExtension)(nil)
	_ ext.JobCollected     = (*MetricsExtension)(nil)
	_ ext.JobDeleted       = (*MetricsExtension)(nil)
	_ ext.WorkerRegistered = (*MetricsExtension)(nil)
	_ ext.WorkerLost       = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics through an OTel
// meter. With no MeterProvider configured the instruments are noops.
//
// Instruments:
//   - cluster.job.transitions (Int64Counter), attributes: event, strategy
//   - cluster.job.duration (Float64Histogram): seconds from start to
//     completion, attribute: strategy
//   - cluster.worker.events (Int64Counter), attribute: event
type MetricsExtension struct {
	transitions metric.Int64Counter
	duration    metric.Float64Histogram
	workers     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on the given meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	transitions, tErr := meter.Int64Counter(
		"cluster.job.transitions",
		metric.WithDescription("Job lifecycle events by kind"),
		metric.WithUnit("{event}"),
	)
	_ = tErr // noop fallback guaranteed by OTel API contract

	duration, dErr := meter.Float64Histogram(
		"cluster.job.duration",
		metric.WithDescription("Time from job start to successful completion in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	workers, wErr := meter.Int64Counter(
		"cluster.worker.events",
		metric.WithDescription("Worker registry events by kind"),
		metric.WithUnit("{event}"),
	)
	_ = wErr // noop fallback guaranteed by OTel API contract

	return &MetricsExtension{
		transitions: transitions,
		duration:    duration,
		workers:     workers,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func (m *MetricsExtension) countJob(ctx context.Context, event string, j *job.Job) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("strategy", j.StrategyName),
	))
}

func (m *MetricsExtension) countWorker(ctx context.Context, event string) {
	m.workers.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.countJob(ctx, "submitted", j)
	return nil
}

// OnJobAssigned implements ext.JobAssigned.
func (m *MetricsExtension) OnJobAssigned(ctx context.Context, j *job.Job) error {
	m.countJob(ctx, "assigned", j)
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.countJob(ctx, "started", j)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.countJob(ctx, "completed", j)
	m.duration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("strategy", j.StrategyName)))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.countJob(ctx, "failed", j)
	return nil
}

// OnJobRequeued implements ext.JobRequeued.
func (m *MetricsExtension) OnJobRequeued(ctx context.Context, j *job.Job, _ string) error {
	m.countJob(ctx, "requeued", j)
	return nil
}

// OnJobCollected implements ext.JobCollected.
func (m *MetricsExtension) OnJobCollected(ctx context.Context, j *job.Job) error {
	m.countJob(ctx, "collected", j)
	return nil
}

// OnJobDeleted implements ext.JobDeleted.
func (m *MetricsExtension) OnJobDeleted(ctx context.Context, j *job.Job) error {
	m.countJob(ctx, "deleted", j)
	return nil
}

// ── Worker lifecycle hooks ──────────────────────────

// OnWorkerRegistered implements ext.WorkerRegistered.
func (m *MetricsExtension) OnWorkerRegistered(ctx context.Context, _ *worker.Worker) error {
	m.countWorker(ctx, "registered")
	return nil
}

// OnWorkerLost implements ext.WorkerLost.
func (m *MetricsExtension) OnWorkerLost(ctx context.Context, _ *worker.Worker, _ time.Duration) error {
	m.countWorker(ctx, "lost")
	return nil
}
