package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/artifact"
	"github.com/blakecragen/cluster/ext"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/store"
	"github.com/blakecragen/cluster/strategy"
	"github.com/blakecragen/cluster/worker"
)

// tracerName is the instrumentation scope name for coordinator spans.
const tracerName = "github.com/blakecragen/cluster/coordinator"

// WorkerLostMessage is the error recorded on a RUNNING job whose worker
// went silent past the grace period.
const WorkerLostMessage = "worker lost"

// Defaults used when no option overrides them.
const (
	DefaultGracePeriod       = 60 * time.Second
	DefaultDispatchInterval  = 2 * time.Second
	DefaultReconcileInterval = 10 * time.Second
)

// Coordinator drives jobs through their lifecycle.
type Coordinator struct {
	store      store.Store
	artifacts  artifact.Store
	registry   *worker.Registry
	strategies *strategy.Registry
	extensions *ext.Registry
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time

	heartbeatTimeout  time.Duration
	gracePeriod       time.Duration
	dispatchInterval  time.Duration
	reconcileInterval time.Duration
	defaultStrategy   string
	deleteArtifacts   bool
	extraStrategies   []strategy.Strategy
	pendingExts       []ext.Extension

	// assignMu is the critical section around paired job/worker writes.
	assignMu sync.Mutex

	// dispatching guards against overlapping dispatch cycles started by
	// the schedule and by submissions.
	dispatching atomic.Bool

	mu      sync.Mutex
	running bool
	cron    *cronlib.Cron
	kick    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the time source for the coordinator and its worker
// registry. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithTracer sets the tracer used for submit, dispatch, reconcile and
// report spans. Defaults to the global TracerProvider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithExtensions replaces the extension registry.
func WithExtensions(r *ext.Registry) Option {
	return func(c *Coordinator) { c.extensions = r }
}

// WithExtension registers one extension.
func WithExtension(e ext.Extension) Option {
	return func(c *Coordinator) { c.pendingExts = append(c.pendingExts, e) }
}

// WithStrategy registers an additional dispatch strategy.
func WithStrategy(s strategy.Strategy) Option {
	return func(c *Coordinator) { c.extraStrategies = append(c.extraStrategies, s) }
}

// WithHeartbeatTimeout sets the window within which a worker is ONLINE.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.heartbeatTimeout = d }
}

// WithGracePeriod sets how long a worker may be silent before its jobs
// are requeued or failed.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Coordinator) { c.gracePeriod = d }
}

// WithDispatchInterval sets the dispatch cycle period.
func WithDispatchInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.dispatchInterval = d }
}

// WithReconcileInterval sets the reconciliation cycle period.
func WithReconcileInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.reconcileInterval = d }
}

// WithDefaultStrategy sets the strategy for submissions that name none.
func WithDefaultStrategy(name string) Option {
	return func(c *Coordinator) { c.defaultStrategy = name }
}

// WithDeleteArtifacts makes DeleteJob also remove the job's input and
// output objects.
func WithDeleteArtifacts(on bool) Option {
	return func(c *Coordinator) { c.deleteArtifacts = on }
}

// FromConfig translates the process configuration into options.
func FromConfig(cfg cluster.Config) []Option {
	return []Option{
		WithHeartbeatTimeout(cfg.HeartbeatTimeout),
		WithGracePeriod(cfg.GracePeriod),
		WithDispatchInterval(cfg.DispatchInterval),
		WithReconcileInterval(cfg.ReconcileInterval),
		WithDefaultStrategy(cfg.DefaultStrategy),
		WithDeleteArtifacts(cfg.DeleteArtifacts),
	}
}

// New creates a Coordinator over a state store and an artifact store.
// artifacts may be nil when no submission carries a blob.
func New(s store.Store, artifacts artifact.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:             s,
		artifacts:         artifacts,
		logger:            slog.Default(),
		now:               func() time.Time { return time.Now().UTC() },
		heartbeatTimeout:  worker.DefaultWindow,
		gracePeriod:       DefaultGracePeriod,
		dispatchInterval:  DefaultDispatchInterval,
		reconcileInterval: DefaultReconcileInterval,
		defaultStrategy:   strategy.NameDefault,
		kick:              make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	if c.extensions == nil {
		c.extensions = ext.NewRegistry(c.logger)
	}
	for _, e := range c.pendingExts {
		c.extensions.Register(e)
	}
	c.strategies = strategy.NewRegistry(c.extraStrategies...)
	c.registry = worker.NewRegistry(s,
		worker.WithWindow(c.heartbeatTimeout),
		worker.WithClock(c.now),
		worker.WithLogger(c.logger),
	)
	return c
}

// Registry returns the worker registry.
func (c *Coordinator) Registry() *worker.Registry { return c.registry }

// Strategies returns the strategy registry.
func (c *Coordinator) Strategies() *strategy.Registry { return c.strategies }

// Extensions returns the extension registry.
func (c *Coordinator) Extensions() *ext.Registry { return c.extensions }

// Store returns the state store.
func (c *Coordinator) Store() store.Store { return c.store }

// HeartbeatTimeout returns the default liveness window.
func (c *Coordinator) HeartbeatTimeout() time.Duration { return c.heartbeatTimeout }

// ──────────────────────────────────────────────────
// Read paths
// ──────────────────────────────────────────────────

// Job returns one job.
func (c *Coordinator) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.store.GetJob(ctx, jobID)
}

// Jobs lists jobs in dispatch order.
func (c *Coordinator) Jobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return c.store.ListJobs(ctx, opts)
}

// Workers lists every worker with its status under window. A zero window
// uses the heartbeat timeout.
func (c *Coordinator) Workers(ctx context.Context, window time.Duration) ([]worker.Record, error) {
	if window <= 0 {
		window = c.heartbeatTimeout
	}
	return c.registry.ListWithin(ctx, window)
}

// Ping checks the state store.
func (c *Coordinator) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// ──────────────────────────────────────────────────
// Workers
// ──────────────────────────────────────────────────

// RegisterRequest is an agent registration.
type RegisterRequest struct {
	WorkerID     string
	Capabilities []string
	Info         worker.Info
}

// RegisterWorker creates or refreshes a worker record.
func (c *Coordinator) RegisterWorker(ctx context.Context, req RegisterRequest) (worker.Record, error) {
	rec, err := c.registry.Register(ctx, req.WorkerID, req.Capabilities, req.Info)
	if err != nil {
		return worker.Record{}, err
	}
	c.extensions.EmitWorkerRegistered(ctx, rec.Worker)
	c.triggerDispatch()
	return rec, nil
}

// Heartbeat records that a worker is alive.
func (c *Coordinator) Heartbeat(ctx context.Context, workerID string) error {
	return c.registry.Heartbeat(ctx, workerID)
}

// RemoveWorker deletes a worker record. Jobs it still holds are recovered
// at once as if the worker were lost: ASSIGNED jobs are requeued and
// RUNNING jobs fail. Removal and recovery share the assignment critical
// section, so a worker that registers again under the same id starts idle
// with no job still naming it.
func (c *Coordinator) RemoveWorker(ctx context.Context, workerID string) error {
	type recovered struct {
		j, out *job.Job
		err    error
	}

	c.assignMu.Lock()
	var held []*job.Job
	for _, state := range []job.State{job.StateAssigned, job.StateRunning} {
		jobs, err := c.store.ListJobs(ctx, job.ListOpts{State: state, Worker: workerID})
		if err != nil {
			c.assignMu.Unlock()
			return fmt.Errorf("list %s jobs: %w", state, err)
		}
		held = append(held, jobs...)
	}
	if err := c.registry.Remove(ctx, workerID); err != nil {
		c.assignMu.Unlock()
		return err
	}
	results := make([]recovered, 0, len(held))
	for _, j := range held {
		out, err := c.recoverJobLocked(ctx, j)
		results = append(results, recovered{j: j, out: out, err: err})
	}
	c.assignMu.Unlock()

	c.logger.Info("worker removed",
		slog.String("worker_id", workerID),
		slog.Int("held_jobs", len(held)),
	)
	var errs []error
	for _, r := range results {
		if _, err := c.finishRecover(ctx, r.j, r.out, r.err, "worker removed"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// startSpan opens a span named op.
func (c *Coordinator) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// releaseWorker clears the worker's pointer to jobID. A worker that was
// removed or already moved on is not an error.
func (c *Coordinator) releaseWorker(ctx context.Context, workerID string, jobID id.JobID) {
	if workerID == "" {
		return
	}
	err := c.store.SetCurrentJob(ctx, workerID, jobID.String(), "")
	if err == nil || cluster.IsNotFound(err) || isConflict(err) {
		return
	}
	c.logger.Error("failed to release worker",
		slog.String("worker_id", workerID),
		slog.String("job_id", jobID.String()),
		slog.String("error", err.Error()),
	)
}

// requireWorker maps a missing worker to ErrUnknownWorker.
func (c *Coordinator) requireWorker(ctx context.Context, workerID string) (*worker.Worker, error) {
	w, err := c.store.GetWorker(ctx, workerID)
	if err != nil {
		if cluster.IsNotFound(err) {
			return nil, cluster.ErrUnknownWorker
		}
		return nil, err
	}
	return w, nil
}
