package ext

import (
	"context"
	"time"

	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/worker"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job is persisted as PENDING.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobAssigned is called after the dispatcher binds a job to a worker.
type JobAssigned interface {
	OnJobAssigned(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker acknowledges that it began a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a worker reports success.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job becomes FAILED, either by worker report
// or because its worker was lost.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRequeued is called when an assigned job returns to PENDING.
type JobRequeued interface {
	OnJobRequeued(ctx context.Context, j *job.Job, reason string) error
}

// JobCollected is called when an operator marks a result collected.
type JobCollected interface {
	OnJobCollected(ctx context.Context, j *job.Job) error
}

// JobDeleted is called after a job is removed from the store.
type JobDeleted interface {
	OnJobDeleted(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Worker lifecycle hooks
// ──────────────────────────────────────────────────

// WorkerRegistered is called after a worker registers or re-registers.
type WorkerRegistered interface {
	OnWorkerRegistered(ctx context.Context, w *worker.Worker) error
}

// WorkerLost is called when reconciliation finds a silent worker past the
// grace period while it still holds a job.
type WorkerLost interface {
	OnWorkerLost(ctx context.Context, w *worker.Worker, silentFor time.Duration) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
