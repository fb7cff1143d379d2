package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/worker"
)

// ReconcileOnce runs one liveness reconciliation and returns the number of
// jobs it moved. Every ASSIGNED or RUNNING job whose worker has been silent
// longer than the grace period (or no longer exists) goes back to PENDING
// if it never started, or to FAILED with WorkerLostMessage if it did. The
// worker's current job is cleared either way. A live worker that does not
// point back at its job is handled as in Recover. Worker pointers that no
// longer match their job are repaired afterwards.
func (c *Coordinator) ReconcileOnce(ctx context.Context) (moved int, err error) {
	ctx, span := c.startSpan(ctx, "cluster.reconcile",
		attribute.String("cluster.grace_period", c.gracePeriod.String()),
	)
	defer func() {
		span.SetAttributes(attribute.Int("cluster.moved", moved))
		endSpan(span, err)
	}()

	now := c.now()
	workers, err := c.store.ListWorkers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list workers: %w", err)
	}
	byID := make(map[string]*worker.Worker, len(workers))
	for _, w := range workers {
		byID[w.ID] = w
	}

	reported := make(map[string]bool)
	for _, state := range []job.State{job.StateAssigned, job.StateRunning} {
		jobs, listErr := c.store.ListJobs(ctx, job.ListOpts{State: state})
		if listErr != nil {
			return moved, fmt.Errorf("list %s jobs: %w", state, listErr)
		}
		for _, j := range jobs {
			w := byID[j.AssignedWorker]
			if !silentPast(w, now, c.gracePeriod) {
				if w.CurrentJob == j.ID.String() {
					continue
				}
				ok, pairErr := c.reconcileUnpaired(ctx, j, "worker does not hold job")
				if pairErr != nil {
					return moved, pairErr
				}
				if ok {
					moved++
				}
				continue
			}

			if w != nil && !reported[w.ID] {
				reported[w.ID] = true
				c.extensions.EmitWorkerLost(ctx, w, w.SilentFor(now))
			}

			ok, recErr := c.recoverJob(ctx, j, "worker offline past grace period")
			if recErr != nil {
				return moved, recErr
			}
			if ok {
				moved++
			}
		}
	}

	if err := c.repairWorkers(ctx, workers); err != nil {
		return moved, err
	}
	return moved, nil
}

// recoverJob moves a job whose worker is gone: ASSIGNED -> PENDING,
// RUNNING -> FAILED. It reports false when the job had already moved on.
func (c *Coordinator) recoverJob(ctx context.Context, j *job.Job, reason string) (bool, error) {
	c.assignMu.Lock()
	out, err := c.recoverJobLocked(ctx, j)
	c.assignMu.Unlock()
	return c.finishRecover(ctx, j, out, err, reason)
}

// recoverJobLocked performs the transition and releases the worker. It
// must be called with assignMu held. A nil job and nil error mean there
// was nothing to do.
func (c *Coordinator) recoverJobLocked(ctx context.Context, j *job.Job) (*job.Job, error) {
	var (
		next  job.State
		patch func(*job.Job)
	)
	switch j.State {
	case job.StateAssigned:
		next = job.StatePending
		patch = func(x *job.Job) {
			x.AssignedWorker = ""
			x.StartedAt = nil
		}
	case job.StateRunning:
		next = job.StateFailed
		patch = func(x *job.Job) {
			x.Error = WorkerLostMessage
			at := c.now()
			x.CompletedAt = &at
		}
	default:
		return nil, nil
	}

	out, err := c.store.TransitionJob(ctx, j.ID, j.State, next, patch)
	c.releaseWorker(ctx, j.AssignedWorker, j.ID)
	if err != nil {
		if isConflict(err) || cluster.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// finishRecover logs and emits hooks for a recoverJobLocked result.
func (c *Coordinator) finishRecover(ctx context.Context, j, out *job.Job, err error, reason string) (bool, error) {
	if err != nil {
		return false, err
	}
	if out == nil {
		return false, nil
	}
	if out.State == job.StatePending {
		c.logger.Warn("requeued job from lost worker",
			slog.String("job_id", j.ID.String()),
			slog.String("worker_id", j.AssignedWorker),
			slog.String("reason", reason),
		)
		c.extensions.EmitJobRequeued(ctx, out, reason)
		return true, nil
	}
	c.logger.Warn("failed job on lost worker",
		slog.String("job_id", j.ID.String()),
		slog.String("worker_id", j.AssignedWorker),
		slog.String("reason", reason),
	)
	c.extensions.EmitJobFailed(ctx, out, cluster.ErrWorkerLost)
	return true, nil
}

// reconcileUnpaired re-reads j and its worker under assignMu and restores
// agreement between them. A RUNNING job whose worker is idle gets the
// pointer back; any other job its worker does not point at is recovered
// as if the worker were lost. It reports whether the job was moved.
func (c *Coordinator) reconcileUnpaired(ctx context.Context, j *job.Job, reason string) (bool, error) {
	c.assignMu.Lock()
	cur, err := c.store.GetJob(ctx, j.ID)
	if err != nil {
		c.assignMu.Unlock()
		if cluster.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get job %s: %w", j.ID, err)
	}
	if cur.State != job.StateAssigned && cur.State != job.StateRunning {
		c.assignMu.Unlock()
		return false, nil
	}

	w, err := c.store.GetWorker(ctx, cur.AssignedWorker)
	switch {
	case err != nil && !cluster.IsNotFound(err):
		c.assignMu.Unlock()
		return false, fmt.Errorf("get worker %s: %w", cur.AssignedWorker, err)
	case err == nil && w.CurrentJob == cur.ID.String():
		c.assignMu.Unlock()
		return false, nil
	case err == nil && w.CurrentJob == "" && cur.State == job.StateRunning:
		linkErr := c.store.SetCurrentJob(ctx, w.ID, "", cur.ID.String())
		if linkErr == nil {
			c.assignMu.Unlock()
			c.logger.Info("relinked running job to its worker",
				slog.String("job_id", cur.ID.String()),
				slog.String("worker_id", w.ID),
			)
			return false, nil
		}
	}

	out, err := c.recoverJobLocked(ctx, cur)
	c.assignMu.Unlock()
	return c.finishRecover(ctx, cur, out, err, reason)
}

// repairWorkers clears current-job pointers that name a job which is gone
// or no longer assigned to that worker.
func (c *Coordinator) repairWorkers(ctx context.Context, workers []*worker.Worker) error {
	for _, w := range workers {
		if w.CurrentJob == "" {
			continue
		}
		jobID, err := id.ParseJobID(w.CurrentJob)
		if err != nil {
			c.clearStale(ctx, w, "unparseable job id")
			continue
		}

		c.assignMu.Lock()
		j, err := c.store.GetJob(ctx, jobID)
		switch {
		case cluster.IsNotFound(err):
			c.clearStaleLocked(ctx, w, "job no longer exists")
		case err != nil:
			c.assignMu.Unlock()
			return fmt.Errorf("get job %s: %w", jobID, err)
		case j.AssignedWorker != w.ID || (j.State != job.StateAssigned && j.State != job.StateRunning):
			c.clearStaleLocked(ctx, w, "job not held by worker")
		}
		c.assignMu.Unlock()
	}
	return nil
}

func (c *Coordinator) clearStale(ctx context.Context, w *worker.Worker, why string) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.clearStaleLocked(ctx, w, why)
}

// clearStaleLocked must be called with assignMu held.
func (c *Coordinator) clearStaleLocked(ctx context.Context, w *worker.Worker, why string) {
	err := c.store.SetCurrentJob(ctx, w.ID, w.CurrentJob, "")
	if err != nil && !isConflict(err) && !cluster.IsNotFound(err) {
		c.logger.Error("failed to clear stale worker pointer",
			slog.String("worker_id", w.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err == nil {
		c.logger.Info("cleared stale worker pointer",
			slog.String("worker_id", w.ID),
			slog.String("job_id", w.CurrentJob),
			slog.String("reason", why),
		)
	}
}

// Recover brings job and worker records back into agreement after a
// coordinator restart. A RUNNING job whose worker is idle gets its pointer
// back. Any other ASSIGNED or RUNNING job that its worker does not point
// at is recovered as if the worker were lost. Stale worker pointers are
// cleared last.
func (c *Coordinator) Recover(ctx context.Context) error {
	workers, err := c.store.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	byID := make(map[string]*worker.Worker, len(workers))
	for _, w := range workers {
		byID[w.ID] = w
	}

	var recovered int
	for _, state := range []job.State{job.StateAssigned, job.StateRunning} {
		jobs, err := c.store.ListJobs(ctx, job.ListOpts{State: state})
		if err != nil {
			return fmt.Errorf("list %s jobs: %w", state, err)
		}
		for _, j := range jobs {
			if w := byID[j.AssignedWorker]; w != nil && w.CurrentJob == j.ID.String() {
				continue
			}
			ok, err := c.reconcileUnpaired(ctx, j, "assignment incomplete at startup")
			if err != nil {
				return err
			}
			if ok {
				recovered++
			}
		}
	}

	// Relinks above changed worker pointers, so repair from a fresh read.
	workers, err = c.store.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	if err := c.repairWorkers(ctx, workers); err != nil {
		return err
	}
	c.logger.Info("state recovered", slog.Int("recovered", recovered))
	return nil
}

// silentPast reports whether w has been quiet longer than d at now.
func silentPast(w *worker.Worker, now time.Time, d time.Duration) bool {
	return w == nil || w.SilentFor(now) > d
}
