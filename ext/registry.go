package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/worker"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.

type jobSubmittedEntry struct {
	name string
	hook JobSubmitted
}

type jobAssignedEntry struct {
	name string
	hook JobAssigned
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobRequeuedEntry struct {
	name string
	hook JobRequeued
}

type jobCollectedEntry struct {
	name string
	hook JobCollected
}

type jobDeletedEntry struct {
	name string
	hook JobDeleted
}

type workerRegisteredEntry struct {
	name string
	hook WorkerRegistered
}

type workerLostEntry struct {
	name string
	hook WorkerLost
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobSubmitted     []jobSubmittedEntry
	jobAssigned      []jobAssignedEntry
	jobStarted       []jobStartedEntry
	jobCompleted     []jobCompletedEntry
	jobFailed        []jobFailedEntry
	jobRequeued      []jobRequeuedEntry
	jobCollected     []jobCollectedEntry
	jobDeleted       []jobDeletedEntry
	workerRegistered []workerRegisteredEntry
	workerLost       []workerLostEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobSubmitted); ok {
		r.jobSubmitted = append(r.jobSubmitted, jobSubmittedEntry{name, h})
	}
	if h, ok := e.(JobAssigned); ok {
		r.jobAssigned = append(r.jobAssigned, jobAssignedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobRequeued); ok {
		r.jobRequeued = append(r.jobRequeued, jobRequeuedEntry{name, h})
	}
	if h, ok := e.(JobCollected); ok {
		r.jobCollected = append(r.jobCollected, jobCollectedEntry{name, h})
	}
	if h, ok := e.(JobDeleted); ok {
		r.jobDeleted = append(r.jobDeleted, jobDeletedEntry{name, h})
	}
	if h, ok := e.(WorkerRegistered); ok {
		r.workerRegistered = append(r.workerRegistered, workerRegisteredEntry{name, h})
	}
	if h, ok := e.(WorkerLost); ok {
		r.workerLost = append(r.workerLost, workerLostEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobSubmitted notifies all extensions that implement JobSubmitted.
func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobSubmitted {
		if err := e.hook.OnJobSubmitted(ctx, j); err != nil {
			r.logHookError("OnJobSubmitted", e.name, err)
		}
	}
}

// EmitJobAssigned notifies all extensions that implement JobAssigned.
func (r *Registry) EmitJobAssigned(ctx context.Context, j *job.Job) {
	for _, e := range r.jobAssigned {
		if err := e.hook.OnJobAssigned(ctx, j); err != nil {
			r.logHookError("OnJobAssigned", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRequeued notifies all extensions that implement JobRequeued.
func (r *Registry) EmitJobRequeued(ctx context.Context, j *job.Job, reason string) {
	for _, e := range r.jobRequeued {
		if err := e.hook.OnJobRequeued(ctx, j, reason); err != nil {
			r.logHookError("OnJobRequeued", e.name, err)
		}
	}
}

// EmitJobCollected notifies all extensions that implement JobCollected.
func (r *Registry) EmitJobCollected(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCollected {
		if err := e.hook.OnJobCollected(ctx, j); err != nil {
			r.logHookError("OnJobCollected", e.name, err)
		}
	}
}

// EmitJobDeleted notifies all extensions that implement JobDeleted.
func (r *Registry) EmitJobDeleted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobDeleted {
		if err := e.hook.OnJobDeleted(ctx, j); err != nil {
			r.logHookError("OnJobDeleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Worker event emitters
// ──────────────────────────────────────────────────

// EmitWorkerRegistered notifies all extensions that implement WorkerRegistered.
func (r *Registry) EmitWorkerRegistered(ctx context.Context, w *worker.Worker) {
	for _, e := range r.workerRegistered {
		if err := e.hook.OnWorkerRegistered(ctx, w); err != nil {
			r.logHookError("OnWorkerRegistered", e.name, err)
		}
	}
}

// EmitWorkerLost notifies all extensions that implement WorkerLost.
func (r *Registry) EmitWorkerLost(ctx context.Context, w *worker.Worker, silentFor time.Duration) {
	for _, e := range r.workerLost {
		if err := e.hook.OnWorkerLost(ctx, w, silentFor); err != nil {
			r.logHookError("OnWorkerLost", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated to the caller.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
