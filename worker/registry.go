package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blakecragen/cluster"
)

// DefaultWindow is the liveness window used when none is configured.
const DefaultWindow = 30 * time.Second

// Registry is the coordinator's view of registered workers. It owns the
// clock and the default liveness window; the store only records recency.
type Registry struct {
	store  Store
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithWindow sets the default liveness window.
func WithWindow(d time.Duration) RegistryOption {
	return func(r *Registry) { r.window = d }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a Registry over store.
func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:  store,
		window: DefaultWindow,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Window returns the default liveness window.
func (r *Registry) Window() time.Duration { return r.window }

// Now returns the registry's current time.
func (r *Registry) Now() time.Time { return r.now() }

// Store returns the underlying worker store.
func (r *Registry) Store() Store { return r.store }

// Register creates or refreshes a worker. Registration is idempotent: an
// existing worker keeps its current job and gets new capabilities, info
// and heartbeat.
func (r *Registry) Register(ctx context.Context, workerID string, capabilities []string, info Info) (Record, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return Record{}, fmt.Errorf("%w: worker id is required", cluster.ErrInvalidRequest)
	}
	now := r.now()
	w, err := r.store.UpsertWorker(ctx, &Worker{
		Info:          info,
		ID:            workerID,
		Capabilities:  NormalizeTags(capabilities),
		LastHeartbeat: now,
		RegisteredAt:  now,
	})
	if err != nil {
		return Record{}, err
	}
	r.logger.Debug("worker registered",
		slog.String("worker_id", w.ID),
		slog.Any("capabilities", w.Capabilities),
	)
	return r.record(w, now, r.window), nil
}

// Heartbeat records that the worker is alive now.
func (r *Registry) Heartbeat(ctx context.Context, workerID string) error {
	return r.store.HeartbeatWorker(ctx, workerID, r.now())
}

// Get returns one worker with its status under the default window.
func (r *Registry) Get(ctx context.Context, workerID string) (Record, error) {
	w, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return Record{}, err
	}
	return r.record(w, r.now(), r.window), nil
}

// List returns every worker with its status under the default window.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	return r.ListWithin(ctx, r.window)
}

// ListWithin returns every worker with its status under window.
func (r *Registry) ListWithin(ctx context.Context, window time.Duration) ([]Record, error) {
	workers, err := r.store.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	out := make([]Record, 0, len(workers))
	for _, w := range workers {
		out = append(out, r.record(w, now, window))
	}
	return out, nil
}

// Eligible returns ONLINE workers whose capabilities include every tag in
// filter. Busy workers are included; strategies decide what to do with them.
func (r *Registry) Eligible(ctx context.Context, filter []string) ([]Record, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return FilterEligible(all, filter), nil
}

// FilterEligible returns the ONLINE records whose capabilities include
// every tag in filter, preserving order. The dispatcher uses it to narrow
// one registry snapshot per job.
func FilterEligible(records []Record, filter []string) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.Status != StatusOnline || !rec.HasCapabilities(filter) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Remove deletes a worker. Workers are never removed automatically.
func (r *Registry) Remove(ctx context.Context, workerID string) error {
	return r.store.RemoveWorker(ctx, workerID)
}

func (r *Registry) record(w *Worker, now time.Time, window time.Duration) Record {
	return Record{Worker: w, Status: w.StatusAt(now, window)}
}
