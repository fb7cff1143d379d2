// Package memory implements store.Store entirely in memory. It is safe for
// concurrent access and intended for unit testing, development, and
// single-process deployments that can afford to lose state on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/worker"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle in tests), so we verify each subsystem.
var (
	_ job.Store    = (*Store)(nil)
	_ worker.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store. Records are
// copied on the way in and out so callers never share memory with it.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*job.Job
	workers map[string]*worker.Worker

	now func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:    make(map[string]*job.Job),
		workers: make(map[string]*worker.Worker),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new PENDING job.
func (s *Store) CreateJob(_ context.Context, j *job.Job) error {
	if j.State != job.StatePending {
		return fmt.Errorf("%w: new job must be %s", cluster.ErrInvalidTransition, job.StatePending)
	}
	if err := j.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := j.ID.String()
	if _, exists := s.jobs[key]; exists {
		return cluster.ErrJobAlreadyExists
	}
	s.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, cluster.ErrJobNotFound
	}
	return j.Clone(), nil
}

// ListJobs returns jobs matching opts in dispatch order.
func (s *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !opts.Matches(j) {
			continue
		}
		result = append(result, j.Clone())
	}
	job.SortForDispatch(result)

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// TransitionJob moves a job from expected to next under the store lock.
func (s *Store) TransitionJob(_ context.Context, jobID id.JobID, expected, next job.State, patch func(*job.Job)) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobID.String()
	cur, ok := s.jobs[key]
	if !ok {
		return nil, cluster.ErrJobNotFound
	}
	out, err := job.Apply(cur, expected, next, patch, s.now())
	if err != nil {
		return nil, err
	}
	s.jobs[key] = out
	return out.Clone(), nil
}

// DeleteJob removes a job that is still in expected.
func (s *Store) DeleteJob(_ context.Context, jobID id.JobID, expected job.State) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobID.String()
	cur, ok := s.jobs[key]
	if !ok {
		return nil, cluster.ErrJobNotFound
	}
	if cur.State != expected {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s",
			cluster.ErrConflictingState, key, cur.State, expected)
	}
	delete(s.jobs, key)

	out := cur.Clone()
	out.State = job.StateDeleted
	return out, nil
}

// ──────────────────────────────────────────────────
// Worker Store
// ──────────────────────────────────────────────────

// UpsertWorker creates or refreshes a worker.
func (s *Store) UpsertWorker(_ context.Context, w *worker.Worker) (*worker.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := w.Clone()
	if cur, ok := s.workers[w.ID]; ok {
		next.CurrentJob = cur.CurrentJob
		next.RegisteredAt = cur.RegisteredAt
		if cur.LastHeartbeat.After(next.LastHeartbeat) {
			next.LastHeartbeat = cur.LastHeartbeat
		}
	}
	s.workers[w.ID] = next
	return next.Clone(), nil
}

// HeartbeatWorker records a heartbeat, ignoring out-of-order timestamps.
func (s *Store) HeartbeatWorker(_ context.Context, workerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID]
	if !ok {
		return cluster.ErrUnknownWorker
	}
	if at.After(w.LastHeartbeat) {
		w.LastHeartbeat = at
	}
	return nil
}

// GetWorker retrieves a worker by id.
func (s *Store) GetWorker(_ context.Context, workerID string) (*worker.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[workerID]
	if !ok {
		return nil, cluster.ErrWorkerNotFound
	}
	return w.Clone(), nil
}

// ListWorkers returns all workers ordered by id.
func (s *Store) ListWorkers(_ context.Context) ([]*worker.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*worker.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		result = append(result, w.Clone())
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result, nil
}

// SetCurrentJob compare-and-sets the worker's current job.
func (s *Store) SetCurrentJob(_ context.Context, workerID, expected, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID]
	if !ok {
		return cluster.ErrWorkerNotFound
	}
	if w.CurrentJob != expected {
		return fmt.Errorf("%w: worker %s holds %q, expected %q",
			cluster.ErrConflictingState, workerID, w.CurrentJob, expected)
	}
	w.CurrentJob = next
	return nil
}

// RemoveWorker deletes a worker.
func (s *Store) RemoveWorker(_ context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[workerID]; !ok {
		return cluster.ErrWorkerNotFound
	}
	delete(s.workers, workerID)
	return nil
}
