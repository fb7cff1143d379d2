package job

import (
	"context"

	"github.com/blakecragen/cluster/id"
)

// ListOpts controls filtering and pagination for job list queries.
type ListOpts struct {
	// State filters by job state. Empty means all states.
	State State
	// Worker filters by assigned worker. Empty means any.
	Worker string
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
}

// Store defines the persistence contract for jobs.
type Store interface {
	// CreateJob persists a new job. The job must be PENDING and valid.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs in dispatch order: priority ascending, then
	// creation time ascending.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// TransitionJob moves a job from expected to next, applying patch to
	// the stored record. It fails with cluster.ErrConflictingState and
	// leaves the record untouched when the job is not in expected.
	TransitionJob(ctx context.Context, jobID id.JobID, expected, next State, patch func(*Job)) (*Job, error)

	// DeleteJob removes a job that is still in expected and returns the
	// removed record with State set to StateDeleted.
	DeleteJob(ctx context.Context, jobID id.JobID, expected State) (*Job, error)
}
