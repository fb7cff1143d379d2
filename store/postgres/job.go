package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
)

const jobColumns = `
	id, name, state, priority, strategy, assigned_worker,
	input_ref, output_ref, last_error,
	started_at, completed_at, collected_at, created_at, updated_at`

// CreateJob persists a new PENDING job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	if j.State != job.StatePending {
		return fmt.Errorf("%w: new job must be %s", cluster.ErrInvalidTransition, job.StatePending)
	}
	if err := j.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO cluster_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13, $14
		)`,
		j.ID, j.Name, string(j.State), j.Priority, j.StrategyName, j.AssignedWorker,
		j.InputRef, j.OutputRef, j.Error,
		j.StartedAt, j.CompletedAt, j.CollectedAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cluster.ErrJobAlreadyExists
		}
		return fmt.Errorf("cluster/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM cluster_jobs
		WHERE id = $1`,
		jobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cluster.ErrJobNotFound
		}
		return nil, fmt.Errorf("cluster/postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs matching opts in dispatch order. A zero limit
// becomes LIMIT NULL, which Postgres treats as no limit.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM cluster_jobs
		WHERE ($1 = '' OR state = $1)
		  AND ($2 = '' OR assigned_worker = $2)
		ORDER BY priority ASC, created_at ASC, id COLLATE "C" ASC
		LIMIT NULLIF($3::int, 0)`,
		string(opts.State), opts.Worker, opts.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("cluster/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// TransitionJob locks the job row, checks the expected state and writes the
// patched record in one transaction.
func (s *Store) TransitionJob(ctx context.Context, jobID id.JobID, expected, next job.State, patch func(*job.Job)) (*job.Job, error) {
	var out *job.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cur, err := scanJob(tx.QueryRow(ctx, `
			SELECT `+jobColumns+`
			FROM cluster_jobs
			WHERE id = $1
			FOR UPDATE`,
			jobID,
		))
		if err != nil {
			if isNoRows(err) {
				return cluster.ErrJobNotFound
			}
			return fmt.Errorf("cluster/postgres: transition job: %w", err)
		}

		updated, err := job.Apply(cur, expected, next, patch, s.now())
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE cluster_jobs SET
				name = $2, state = $3, priority = $4, strategy = $5,
				assigned_worker = $6, input_ref = $7, output_ref = $8,
				last_error = $9, started_at = $10, completed_at = $11,
				collected_at = $12, updated_at = $13
			WHERE id = $1`,
			updated.ID, updated.Name, string(updated.State), updated.Priority, updated.StrategyName,
			updated.AssignedWorker, updated.InputRef, updated.OutputRef,
			updated.Error, updated.StartedAt, updated.CompletedAt,
			updated.CollectedAt, updated.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("cluster/postgres: transition job: %w", err)
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteJob removes a job that is still in expected.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID, expected job.State) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		DELETE FROM cluster_jobs
		WHERE id = $1 AND state = $2
		RETURNING `+jobColumns,
		jobID, string(expected),
	)

	j, err := scanJob(row)
	if err == nil {
		j.State = job.StateDeleted
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("cluster/postgres: delete job: %w", err)
	}

	// Nothing deleted: tell a missing job from one in another state.
	cur, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: job %s is %s, expected %s",
		cluster.ErrConflictingState, jobID, cur.State, expected)
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j        job.Job
		stateStr string
	)
	err := row.Scan(
		&j.ID, &j.Name, &stateStr, &j.Priority, &j.StrategyName, &j.AssignedWorker,
		&j.InputRef, &j.OutputRef, &j.Error,
		&j.StartedAt, &j.CompletedAt, &j.CollectedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.ID.Prefix() != id.PrefixJob {
		return nil, fmt.Errorf("cluster/postgres: job row has id %q", j.ID)
	}
	j.State = job.State(stateStr)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	jobs := []*job.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("cluster/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cluster/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
