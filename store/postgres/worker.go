package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/worker"
)

const workerColumns = `
	id, hostname, os, cpu, kernel, ip, task_runner,
	capabilities, current_job, last_heartbeat, registered_at`

// UpsertWorker creates or refreshes a worker, keeping its current job and
// registration time.
func (s *Store) UpsertWorker(ctx context.Context, w *worker.Worker) (*worker.Worker, error) {
	caps := w.Capabilities
	if caps == nil {
		caps = []string{}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO cluster_workers (`+workerColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, '', $9, $10
		)
		ON CONFLICT (id) DO UPDATE SET
			hostname       = EXCLUDED.hostname,
			os             = EXCLUDED.os,
			cpu            = EXCLUDED.cpu,
			kernel         = EXCLUDED.kernel,
			ip             = EXCLUDED.ip,
			task_runner    = EXCLUDED.task_runner,
			capabilities   = EXCLUDED.capabilities,
			last_heartbeat = GREATEST(cluster_workers.last_heartbeat, EXCLUDED.last_heartbeat)
		RETURNING `+workerColumns,
		w.ID, w.Hostname, w.OS, w.CPU, w.Kernel, w.IP, w.TaskRunner,
		caps, w.LastHeartbeat, w.RegisteredAt,
	)
	out, err := scanWorker(row)
	if err != nil {
		return nil, fmt.Errorf("cluster/postgres: upsert worker: %w", err)
	}
	return out, nil
}

// HeartbeatWorker records a heartbeat, ignoring out-of-order timestamps.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cluster_workers
		SET last_heartbeat = GREATEST(last_heartbeat, $2)
		WHERE id = $1`,
		workerID, at,
	)
	if err != nil {
		return fmt.Errorf("cluster/postgres: heartbeat worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cluster.ErrUnknownWorker
	}
	return nil
}

// GetWorker retrieves a worker by id.
func (s *Store) GetWorker(ctx context.Context, workerID string) (*worker.Worker, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+workerColumns+`
		FROM cluster_workers
		WHERE id = $1`,
		workerID,
	)
	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cluster.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("cluster/postgres: get worker: %w", err)
	}
	return w, nil
}

// ListWorkers returns all workers ordered by id.
func (s *Store) ListWorkers(ctx context.Context) ([]*worker.Worker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workerColumns+`
		FROM cluster_workers
		ORDER BY id COLLATE "C" ASC`)
	if err != nil {
		return nil, fmt.Errorf("cluster/postgres: list workers: %w", err)
	}
	defer rows.Close()

	workers := []*worker.Worker{}
	for rows.Next() {
		w, scanErr := scanWorker(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("cluster/postgres: scan worker row: %w", scanErr)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cluster/postgres: iterate worker rows: %w", err)
	}
	return workers, nil
}

// SetCurrentJob compare-and-sets the worker's current job.
func (s *Store) SetCurrentJob(ctx context.Context, workerID, expected, next string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cluster_workers
		SET current_job = $3
		WHERE id = $1 AND current_job = $2`,
		workerID, expected, next,
	)
	if err != nil {
		return fmt.Errorf("cluster/postgres: set current job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var cur string
	err = s.pool.QueryRow(ctx,
		`SELECT current_job FROM cluster_workers WHERE id = $1`, workerID,
	).Scan(&cur)
	if err != nil {
		if isNoRows(err) {
			return cluster.ErrWorkerNotFound
		}
		return fmt.Errorf("cluster/postgres: set current job: %w", err)
	}
	return fmt.Errorf("%w: worker %s holds %q, expected %q",
		cluster.ErrConflictingState, workerID, cur, expected)
}

// RemoveWorker deletes a worker.
func (s *Store) RemoveWorker(ctx context.Context, workerID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cluster_workers WHERE id = $1`, workerID)
	if err != nil {
		return fmt.Errorf("cluster/postgres: remove worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cluster.ErrWorkerNotFound
	}
	return nil
}

// scanWorker scans a single worker row.
func scanWorker(row pgx.Row) (*worker.Worker, error) {
	var w worker.Worker
	err := row.Scan(
		&w.ID, &w.Hostname, &w.OS, &w.CPU, &w.Kernel, &w.IP, &w.TaskRunner,
		&w.Capabilities, &w.CurrentJob, &w.LastHeartbeat, &w.RegisteredAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
