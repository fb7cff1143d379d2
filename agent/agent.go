package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/api"
	"github.com/blakecragen/cluster/backoff"
	"github.com/blakecragen/cluster/client"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/middleware"
)

// Defaults applied by New.
const (
	DefaultPollInterval      = 2 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultMaxAttempts       = 5
)

// Agent executes jobs assigned to one worker identity.
type Agent struct {
	client *client.Client
	runner TaskRunner
	logger *slog.Logger

	id                string
	extraCaps         []string
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	backoff           backoff.Strategy
	maxAttempts       int
	taskTimeout       time.Duration
	workDir           string
	middleware        []middleware.Middleware

	chain      middleware.Middleware
	registered atomic.Bool
	completed  atomic.Int64
	failed     atomic.Int64
}

// New creates an agent talking to the coordinator through c.
func New(c *client.Client, opts ...Option) *Agent {
	a := &Agent{
		client:       c,
		runner:       DefaultRunner{},
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		backoff:      backoff.DefaultStrategy(),
		maxAttempts:  DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.id == "" {
		a.id = NewWorkerID()
	}
	a.logger = a.logger.With(slog.String("worker_id", a.id))

	builtin := []middleware.Middleware{
		middleware.Logging(a.logger),
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.Recover(a.logger),
		middleware.Workspace(a.workDir),
		middleware.Timeout(a.taskTimeout),
	}
	a.chain = middleware.Chain(append(builtin, a.middleware...)...)
	return a
}

// ID returns the worker identity.
func (a *Agent) ID() string { return a.id }

// Stats returns how many jobs this agent completed and failed.
func (a *Agent) Stats() (completed, failed int64) {
	return a.completed.Load(), a.failed.Load()
}

// Run registers and then heartbeats and executes jobs until ctx ends.
// It returns nil on cancellation.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting",
		slog.String("coordinator", a.client.BaseURL()),
		slog.String("runner", a.runner.Name()),
	)
	if err := a.register(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.heartbeatLoop(gctx) })
	g.Go(func() error { return a.claimLoop(gctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		err = nil
	}
	a.logger.Info("agent stopped")
	return err
}

// ──────────────────────────────────────────────────
// Registration and heartbeat
// ──────────────────────────────────────────────────

// register announces the agent, retrying transient failures until ctx
// ends. A permanent rejection is returned.
func (a *Agent) register(ctx context.Context) error {
	req := api.RegisterRequest{
		WorkerID:     a.id,
		Capabilities: Capabilities(a.runner.Name(), a.extraCaps...),
		TaskRunner:   a.runner.Name(),
	}
	hostInfo(&req)

	var resp api.RegisterResponse
	err := backoff.Retry(ctx, a.backoff, 0, client.IsRetryable, func(ctx context.Context) error {
		var err error
		resp, err = a.client.Register(ctx, req)
		if err != nil {
			a.logger.Warn("registration failed", slog.String("error", err.Error()))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("agent: register: %w", err)
	}

	if a.heartbeatInterval <= 0 {
		a.heartbeatInterval = DefaultHeartbeatInterval
		if d, perr := time.ParseDuration(resp.HeartbeatInterval); perr == nil && d > 0 {
			a.heartbeatInterval = d
		}
	}
	a.registered.Store(true)
	a.logger.Info("registered with coordinator",
		slog.Any("capabilities", req.Capabilities),
		slog.Duration("heartbeat_interval", a.heartbeatInterval),
	)
	return nil
}

// reregister is called when the coordinator answers "unknown worker".
func (a *Agent) reregister(ctx context.Context) error {
	if a.registered.Swap(false) {
		a.logger.Warn("coordinator no longer knows this worker, registering again")
	}
	return a.register(ctx)
}

func (a *Agent) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		err := a.client.Heartbeat(ctx, a.id)
		switch {
		case err == nil:
		case errors.Is(err, cluster.ErrUnknownWorker):
			if rerr := a.reregister(ctx); rerr != nil {
				return rerr
			}
		default:
			a.logger.Warn("heartbeat failed", slog.String("error", err.Error()))
		}
	}
}

// ──────────────────────────────────────────────────
// Claim loop
// ──────────────────────────────────────────────────

func (a *Agent) claimLoop(ctx context.Context) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		j, err := a.client.Claim(ctx, a.id)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, cluster.ErrUnknownWorker):
			if rerr := a.reregister(ctx); rerr != nil {
				return rerr
			}
			continue
		default:
			failures++
			a.logger.Warn("claim failed", slog.String("error", err.Error()), slog.Int("attempt", failures))
			if werr := backoff.Wait(ctx, a.backoff, failures); werr != nil {
				return werr
			}
			continue
		}

		if j == nil {
			if werr := sleep(ctx, a.pollInterval); werr != nil {
				return werr
			}
			continue
		}
		a.execute(ctx, j)
	}
}

// execute runs one claimed job to a final report. Failures to reach the
// coordinator are logged; the reconciler requeues or fails the job if this
// agent goes silent.
func (a *Agent) execute(ctx context.Context, j *job.Job) {
	log := a.logger.With(slog.String("job_id", j.ID.String()))

	if err := a.retry(ctx, func(ctx context.Context) error {
		_, err := a.client.Start(ctx, j.ID, a.id)
		return err
	}); err != nil {
		// The job was requeued, reassigned or deleted in the meantime.
		log.Warn("could not start job", slog.String("error", err.Error()))
		return
	}

	var outputPath string
	runErr := a.chain(ctx, j, func(ctx context.Context) error {
		workDir, ok := middleware.WorkDir(ctx)
		if !ok {
			return errors.New("no workspace")
		}
		var (
			input []byte
			name  string
		)
		if err := a.retry(ctx, func(ctx context.Context) error {
			var err error
			input, name, err = a.client.Input(ctx, j.ID, a.id)
			return err
		}); err != nil {
			return fmt.Errorf("download input: %w", err)
		}
		if name == "" {
			name = "input"
		}
		inputPath := filepath.Join(workDir, "input_"+filepath.Base(name))
		if err := os.WriteFile(inputPath, input, 0o600); err != nil {
			return fmt.Errorf("save input: %w", err)
		}

		out, err := a.runner.Run(ctx, inputPath, workDir)
		if err != nil {
			return err
		}
		// The workspace is removed when the chain returns.
		data, err := os.ReadFile(out)
		if err != nil {
			return fmt.Errorf("read output: %w", err)
		}
		outputPath = filepath.Base(out)
		return a.retry(ctx, func(ctx context.Context) error {
			_, err := a.client.UploadResult(ctx, j.ID, a.id, outputPath, data)
			return err
		})
	})

	if runErr == nil {
		a.completed.Add(1)
		log.Info("job completed", slog.String("output", outputPath))
		return
	}
	if ctx.Err() != nil {
		// Shutting down: leave the job to the reconciler.
		return
	}

	a.failed.Add(1)
	if err := a.retry(ctx, func(ctx context.Context) error {
		_, err := a.client.ReportFailure(ctx, j.ID, a.id, runErr.Error())
		return err
	}); err != nil {
		log.Error("could not report failure", slog.String("error", err.Error()))
	}
}

func (a *Agent) retry(ctx context.Context, fn func(context.Context) error) error {
	return backoff.Retry(ctx, a.backoff, a.maxAttempts, client.IsRetryable, fn)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
