// Package store defines the aggregate persistence interface. The job and
// worker subsystems each define their own store interface and the
// composite Store composes them. Backends: Memory, Redis, Postgres.
package store

import (
	"context"

	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/worker"
)

// Store is the aggregate persistence interface.
// A single backend implements both subsystem stores, and every mutation it
// exposes is a compare-and-set so the coordinator can compose the job and
// worker records without holding a lock across I/O.
type Store interface {
	job.Store
	worker.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
