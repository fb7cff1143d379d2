package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/blakecragen/cluster/ext"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/worker"
)

var (
	_ ext.Extension        = (*LoggingExtension)(nil)
	_ ext.JobSubmitted     = (*LoggingExtension)(nil)
	_ ext.JobAssigned      = (*LoggingExtension)(nil)
	_ ext.JobStarted       = (*LoggingExtension)(nil)
	_ ext.JobCompleted     = (*LoggingExtension)(nil)
	_ ext.JobFailed        = (*LoggingExtension)(nil)
	_ ext.JobRequeued      = (*LoggingExtension)(nil)
	_ ext.JobCollected     = (*LoggingExtension)(nil)
	_ ext.JobDeleted       = (*LoggingExtension)(nil)
	_ ext.WorkerRegistered = (*LoggingExtension)(nil)
	_ ext.WorkerLost       = (*LoggingExtension)(nil)
	_ ext.Shutdown         = (*LoggingExtension)(nil)
)

// LoggingExtension logs every lifecycle event.
type LoggingExtension struct {
	logger *slog.Logger
}

// NewLoggingExtension returns a LoggingExtension writing to logger.
func NewLoggingExtension(logger *slog.Logger) *LoggingExtension {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingExtension{logger: logger}
}

// Name implements ext.Extension.
func (l *LoggingExtension) Name() string { return "observability-logging" }

func jobAttrs(j *job.Job) []any {
	attrs := []any{
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("strategy", j.StrategyName),
	}
	if j.AssignedWorker != "" {
		attrs = append(attrs, slog.String("worker_id", j.AssignedWorker))
	}
	return attrs
}

// OnJobSubmitted implements ext.JobSubmitted.
func (l *LoggingExtension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	l.logger.InfoContext(ctx, "job submitted", append(jobAttrs(j), slog.Int("priority", j.Priority))...)
	return nil
}

// OnJobAssigned implements ext.JobAssigned.
func (l *LoggingExtension) OnJobAssigned(ctx context.Context, j *job.Job) error {
	l.logger.InfoContext(ctx, "job assigned", jobAttrs(j)...)
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (l *LoggingExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	l.logger.InfoContext(ctx, "job started", jobAttrs(j)...)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (l *LoggingExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	l.logger.InfoContext(ctx, "job completed",
		append(jobAttrs(j), slog.Duration("elapsed", elapsed), slog.String("output_ref", j.OutputRef))...)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (l *LoggingExtension) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
	l.logger.ErrorContext(ctx, "job failed", append(jobAttrs(j), slog.String("error", err.Error()))...)
	return nil
}

// OnJobRequeued implements ext.JobRequeued.
func (l *LoggingExtension) OnJobRequeued(ctx context.Context, j *job.Job, reason string) error {
	l.logger.WarnContext(ctx, "job requeued", append(jobAttrs(j), slog.String("reason", reason))...)
	return nil
}

// OnJobCollected implements ext.JobCollected.
func (l *LoggingExtension) OnJobCollected(ctx context.Context, j *job.Job) error {
	l.logger.InfoContext(ctx, "job collected", jobAttrs(j)...)
	return nil
}

// OnJobDeleted implements ext.JobDeleted.
func (l *LoggingExtension) OnJobDeleted(ctx context.Context, j *job.Job) error {
	l.logger.InfoContext(ctx, "job deleted", jobAttrs(j)...)
	return nil
}

// OnWorkerRegistered implements ext.WorkerRegistered.
func (l *LoggingExtension) OnWorkerRegistered(ctx context.Context, w *worker.Worker) error {
	l.logger.InfoContext(ctx, "worker registered",
		slog.String("worker_id", w.ID),
		slog.String("hostname", w.Hostname),
		slog.Any("capabilities", w.Capabilities),
	)
	return nil
}

// OnWorkerLost implements ext.WorkerLost.
func (l *LoggingExtension) OnWorkerLost(ctx context.Context, w *worker.Worker, silentFor time.Duration) error {
	l.logger.WarnContext(ctx, "worker lost",
		slog.String("worker_id", w.ID),
		slog.String("current_job", w.CurrentJob),
		slog.Duration("silent_for", silentFor),
	)
	return nil
}

// OnShutdown implements ext.Shutdown.
func (l *LoggingExtension) OnShutdown(ctx context.Context) error {
	l.logger.InfoContext(ctx, "coordinator shutting down")
	return nil
}
