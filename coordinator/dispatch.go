package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/strategy"
	"github.com/blakecragen/cluster/worker"
)

// DispatchOnce runs one dispatch cycle and returns the number of jobs it
// assigned. PENDING jobs are visited in dispatch order; each is offered
// the ONLINE workers that match its tags and are not yet busy. A job the
// strategy defers stays PENDING for the next cycle.
func (c *Coordinator) DispatchOnce(ctx context.Context) (assigned int, err error) {
	ctx, span := c.startSpan(ctx, "cluster.dispatch")
	defer func() {
		span.SetAttributes(attribute.Int("cluster.assigned", assigned))
		endSpan(span, err)
	}()

	pending, err := c.store.ListJobs(ctx, job.ListOpts{State: job.StatePending})
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	workers, err := c.registry.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list workers: %w", err)
	}

	for _, j := range pending {
		if ctx.Err() != nil {
			return assigned, ctx.Err()
		}

		s, lookupErr := c.strategies.Lookup(j.StrategyName)
		if lookupErr != nil {
			c.logger.Warn("job names an unknown strategy, leaving it pending",
				slog.String("job_id", j.ID.String()),
				slog.String("strategy", j.StrategyName),
			)
			continue
		}

		_, tags := strategy.Parse(j.StrategyName)
		// Busy workers stay in the set; the strategy decides about them.
		eligible := worker.FilterEligible(workers, tags)
		if len(eligible) == 0 {
			continue
		}

		choice, ok := s.Select(j, eligible)
		if !ok {
			continue
		}

		out, assignErr := c.assign(ctx, j, choice.ID)
		switch {
		case assignErr == nil:
			assigned++
			markBusy(workers, choice.ID, j.ID.String())
			c.extensions.EmitJobAssigned(ctx, out)
		case isConflict(assignErr):
			// Another writer moved the job or the worker picked up work
			// since the snapshot. Treat the worker as busy for this cycle.
			markBusy(workers, choice.ID, "?")
			c.logger.Debug("assignment lost a race",
				slog.String("job_id", j.ID.String()),
				slog.String("worker_id", choice.ID),
				slog.String("error", assignErr.Error()),
			)
		case cluster.IsNotFound(assignErr):
			markBusy(workers, choice.ID, "?")
		default:
			return assigned, assignErr
		}
	}
	return assigned, nil
}

// assign binds j to workerID. The job moves PENDING -> ASSIGNED and the
// worker's current job is set, both or neither: a failure on the worker
// write rolls the job back to PENDING.
func (c *Coordinator) assign(ctx context.Context, j *job.Job, workerID string) (*job.Job, error) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()

	out, err := c.store.TransitionJob(ctx, j.ID, job.StatePending, job.StateAssigned, func(x *job.Job) {
		x.AssignedWorker = workerID
	})
	if err != nil {
		return nil, err
	}

	if err := c.store.SetCurrentJob(ctx, workerID, "", j.ID.String()); err != nil {
		_, rbErr := c.store.TransitionJob(ctx, j.ID, job.StateAssigned, job.StatePending, func(x *job.Job) {
			x.AssignedWorker = ""
		})
		if rbErr != nil {
			c.logger.Error("failed to roll back assignment",
				slog.String("job_id", j.ID.String()),
				slog.String("worker_id", workerID),
				slog.String("error", rbErr.Error()),
			)
			return nil, errors.Join(err, rbErr)
		}
		return nil, err
	}
	return out, nil
}

// markBusy records locally that workerID holds a job for the rest of the
// cycle.
func markBusy(workers []worker.Record, workerID, jobID string) {
	for i := range workers {
		if workers[i].ID == workerID {
			workers[i].CurrentJob = jobID
			return
		}
	}
}

func isConflict(err error) bool {
	return errors.Is(err, cluster.ErrConflictingState)
}
