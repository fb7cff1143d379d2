package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/artifact"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
)

// Claim returns the job currently ASSIGNED to workerID, or nil when it has
// none. Polling counts as a heartbeat.
func (c *Coordinator) Claim(ctx context.Context, workerID string) (*job.Job, error) {
	if err := c.registry.Heartbeat(ctx, workerID); err != nil {
		return nil, err
	}
	jobs, err := c.store.ListJobs(ctx, job.ListOpts{
		State:  job.StateAssigned,
		Worker: workerID,
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// StartJob records the worker's acknowledgement: ASSIGNED -> RUNNING.
func (c *Coordinator) StartJob(ctx context.Context, jobID id.JobID, workerID string) (*job.Job, error) {
	if _, err := c.requireWorker(ctx, workerID); err != nil {
		return nil, err
	}
	cur, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if cur.State != job.StateAssigned || cur.AssignedWorker != workerID {
		return nil, fmt.Errorf("%w: job %s is %s on %q",
			cluster.ErrConflictingState, jobID, cur.State, cur.AssignedWorker)
	}

	out, err := c.store.TransitionJob(ctx, jobID, job.StateAssigned, job.StateRunning, func(x *job.Job) {
		at := c.now()
		x.StartedAt = &at
	})
	if err != nil {
		return nil, err
	}
	c.extensions.EmitJobStarted(ctx, out)
	return out, nil
}

// CompletionReport is a worker's final word on a job: exactly one of
// OutputRef and Error is set.
type CompletionReport struct {
	JobID     id.JobID
	WorkerID  string
	OutputRef string
	Error     string
}

// Complete applies a completion report. The job must be ASSIGNED or
// RUNNING on the reporting worker, otherwise the report is stale and fails
// with ErrConflictingState. A report for a deleted job fails with
// ErrJobNotFound.
func (c *Coordinator) Complete(ctx context.Context, r CompletionReport) (out *job.Job, err error) {
	ctx, span := c.startSpan(ctx, "cluster.complete",
		attribute.String("cluster.job.id", r.JobID.String()),
		attribute.String("cluster.worker.id", r.WorkerID),
	)
	defer func() { endSpan(span, err) }()

	r.OutputRef = strings.TrimSpace(r.OutputRef)
	r.Error = strings.TrimSpace(r.Error)
	if (r.OutputRef == "") == (r.Error == "") {
		return nil, fmt.Errorf("%w: report needs exactly one of output_ref and error", cluster.ErrInvalidRequest)
	}
	if r.OutputRef != "" {
		if _, err := artifact.ParseRef(r.OutputRef); err != nil {
			return nil, fmt.Errorf("%w: %w", cluster.ErrInvalidRequest, err)
		}
	}

	if _, err := c.requireWorker(ctx, r.WorkerID); err != nil {
		return nil, err
	}
	cur, err := c.ownedJob(ctx, r.JobID, r.WorkerID)
	if err != nil {
		return nil, err
	}

	next := job.StateCompleted
	if r.Error != "" {
		next = job.StateFailed
	}

	c.assignMu.Lock()
	out, err = c.store.TransitionJob(ctx, r.JobID, cur.State, next, func(x *job.Job) {
		at := c.now()
		x.CompletedAt = &at
		x.OutputRef = r.OutputRef
		x.Error = r.Error
	})
	if err == nil {
		c.releaseWorker(ctx, r.WorkerID, r.JobID)
	}
	c.assignMu.Unlock()
	if err != nil {
		return nil, err
	}

	if next == job.StateCompleted {
		c.extensions.EmitJobCompleted(ctx, out, out.Elapsed(c.now()))
	} else {
		c.extensions.EmitJobFailed(ctx, out, errors.New(r.Error))
	}
	return out, nil
}

// UploadResult stores a worker's result in the results bucket and then
// completes the job with a reference to it. When the artifact store fails
// the report is rejected with ErrArtifactUnavailable and the job keeps its
// state so the worker can retry.
func (c *Coordinator) UploadResult(ctx context.Context, jobID id.JobID, workerID, name string, body io.Reader, size int64) (*job.Job, error) {
	if c.artifacts == nil {
		return nil, fmt.Errorf("%w: no artifact store configured", cluster.ErrArtifactUnavailable)
	}
	if _, err := c.requireWorker(ctx, workerID); err != nil {
		return nil, err
	}
	if _, err := c.ownedJob(ctx, jobID, workerID); err != nil {
		return nil, err
	}

	ref := artifact.ResultRef(jobID.String(), name, c.now())
	if err := c.artifacts.Put(ctx, ref, body, size, artifact.ContentType(name)); err != nil {
		return nil, err
	}

	out, err := c.Complete(ctx, CompletionReport{
		JobID:     jobID,
		WorkerID:  workerID,
		OutputRef: ref.String(),
	})
	if err != nil {
		c.discardArtifact(ctx, ref)
		return nil, err
	}
	return out, nil
}

// OpenInput streams a job's input to the worker it is assigned to.
func (c *Coordinator) OpenInput(ctx context.Context, jobID id.JobID, workerID string) (io.ReadCloser, artifact.Info, *job.Job, error) {
	if _, err := c.requireWorker(ctx, workerID); err != nil {
		return nil, artifact.Info{}, nil, err
	}
	j, err := c.ownedJob(ctx, jobID, workerID)
	if err != nil {
		return nil, artifact.Info{}, nil, err
	}
	if j.InputRef == "" {
		return nil, artifact.Info{}, nil, fmt.Errorf("%w: job %s has no input", cluster.ErrInvalidRequest, jobID)
	}
	rc, info, err := c.open(ctx, j.InputRef)
	if err != nil {
		return nil, artifact.Info{}, nil, err
	}
	return rc, info, j, nil
}

// ownedJob loads a job and checks that workerID holds it in ASSIGNED or
// RUNNING.
func (c *Coordinator) ownedJob(ctx context.Context, jobID id.JobID, workerID string) (*job.Job, error) {
	j, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if (j.State != job.StateAssigned && j.State != job.StateRunning) || j.AssignedWorker != workerID {
		return nil, fmt.Errorf("%w: job %s is %s on %q, not held by %q",
			cluster.ErrConflictingState, jobID, j.State, j.AssignedWorker, workerID)
	}
	return j, nil
}

// open fetches the object behind a stored reference.
func (c *Coordinator) open(ctx context.Context, ref string) (io.ReadCloser, artifact.Info, error) {
	if c.artifacts == nil {
		return nil, artifact.Info{}, fmt.Errorf("%w: no artifact store configured", cluster.ErrArtifactUnavailable)
	}
	parsed, err := artifact.ParseRef(ref)
	if err != nil {
		return nil, artifact.Info{}, fmt.Errorf("%w: %w", cluster.ErrArtifactUnavailable, err)
	}
	return c.artifacts.Get(ctx, parsed)
}
