package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/artifact"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
)

// OpenResult streams the output of a COMPLETED or COLLECTED job. Reading
// the result does not collect it.
func (c *Coordinator) OpenResult(ctx context.Context, jobID id.JobID) (io.ReadCloser, artifact.Info, *job.Job, error) {
	j, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, artifact.Info{}, nil, err
	}
	if j.State != job.StateCompleted && j.State != job.StateCollected {
		return nil, artifact.Info{}, nil, fmt.Errorf("%w: job %s is %s", cluster.ErrResultNotAvailable, jobID, j.State)
	}
	rc, info, err := c.open(ctx, j.OutputRef)
	if err != nil {
		return nil, artifact.Info{}, nil, err
	}
	return rc, info, j, nil
}

// MarkCollected records that an operator retrieved the result:
// COMPLETED -> COLLECTED.
func (c *Coordinator) MarkCollected(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	out, err := c.store.TransitionJob(ctx, jobID, job.StateCompleted, job.StateCollected, func(x *job.Job) {
		at := c.now()
		x.CollectedAt = &at
		x.AssignedWorker = ""
	})
	if err != nil {
		return nil, err
	}
	c.extensions.EmitJobCollected(ctx, out)
	return out, nil
}

// DeleteJob removes a job record. Jobs in COMPLETED, FAILED or COLLECTED
// can always be deleted; any other state needs force. Deleting an
// ASSIGNED or RUNNING job does not cancel remote work: the worker is
// released and its late report fails with ErrJobNotFound. Objects are
// kept unless the coordinator was built WithDeleteArtifacts.
func (c *Coordinator) DeleteJob(ctx context.Context, jobID id.JobID, force bool) (*job.Job, error) {
	cur, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !cur.State.IsTerminal() && !force {
		return nil, fmt.Errorf("%w: job %s is %s", cluster.ErrJobNotTerminal, jobID, cur.State)
	}

	c.assignMu.Lock()
	out, err := c.store.DeleteJob(ctx, jobID, cur.State)
	if err == nil && (cur.State == job.StateAssigned || cur.State == job.StateRunning) {
		c.releaseWorker(ctx, cur.AssignedWorker, jobID)
	}
	c.assignMu.Unlock()
	if err != nil {
		return nil, err
	}

	if c.deleteArtifacts {
		for _, raw := range []string{out.InputRef, out.OutputRef} {
			if ref, parseErr := artifact.ParseRef(raw); parseErr == nil {
				c.discardArtifact(ctx, ref)
			}
		}
	}

	c.logger.Info("job deleted",
		slog.String("job_id", jobID.String()),
		slog.String("previous_state", string(cur.State)),
		slog.Bool("forced", !cur.State.IsTerminal()),
	)
	c.extensions.EmitJobDeleted(ctx, out)
	return out, nil
}

// Purge force-deletes every job and returns how many were removed.
func (c *Coordinator) Purge(ctx context.Context) (int, error) {
	jobs, err := c.store.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		return 0, err
	}
	var n int
	for _, j := range jobs {
		_, err := c.DeleteJob(ctx, j.ID, true)
		switch {
		case err == nil:
			n++
		case cluster.IsNotFound(err) || isConflict(err):
			// Removed or moved concurrently.
		default:
			return n, err
		}
	}
	return n, nil
}
