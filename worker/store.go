package worker

import (
	"context"
	"time"
)

// Store defines the persistence contract for the worker registry.
type Store interface {
	// UpsertWorker creates the worker or, if the id exists, replaces its
	// capabilities, info and heartbeat while keeping CurrentJob and
	// RegisteredAt. It returns the stored record.
	UpsertWorker(ctx context.Context, w *Worker) (*Worker, error)

	// HeartbeatWorker records a heartbeat at the given time. It returns
	// cluster.ErrUnknownWorker for an unregistered id and silently keeps
	// the newer timestamp when at is older than the recorded one.
	HeartbeatWorker(ctx context.Context, workerID string, at time.Time) error

	// GetWorker retrieves a worker by id.
	GetWorker(ctx context.Context, workerID string) (*Worker, error)

	// ListWorkers returns all registered workers ordered by id.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// SetCurrentJob sets the worker's current job to next if it currently
	// equals expected, or fails with cluster.ErrConflictingState.
	SetCurrentJob(ctx context.Context, workerID, expected, next string) error

	// RemoveWorker deletes a worker from the registry.
	RemoveWorker(ctx context.Context, workerID string) error
}
