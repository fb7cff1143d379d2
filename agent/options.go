package agent

import (
	"log/slog"
	"time"

	"github.com/blakecragen/cluster/backoff"
	"github.com/blakecragen/cluster/middleware"
)

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithWorkerID fixes the worker identity instead of generating one.
func WithWorkerID(id string) Option {
	return func(a *Agent) {
		if id != "" {
			a.id = id
		}
	}
}

// WithRunner sets the task runner. The default is DefaultRunner.
func WithRunner(r TaskRunner) Option {
	return func(a *Agent) { a.runner = r }
}

// WithCapabilities adds tags to the platform capabilities.
func WithCapabilities(tags ...string) Option {
	return func(a *Agent) { a.extraCaps = append(a.extraCaps, tags...) }
}

// WithPollInterval sets how long the agent waits between claims when it
// holds no job.
func WithPollInterval(d time.Duration) Option {
	return func(a *Agent) { a.pollInterval = d }
}

// WithHeartbeatInterval overrides the interval suggested by the
// coordinator at registration.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(a *Agent) { a.heartbeatInterval = d }
}

// WithBackoff sets the retry delay strategy for coordinator calls.
func WithBackoff(s backoff.Strategy) Option {
	return func(a *Agent) { a.backoff = s }
}

// WithMaxAttempts bounds retries of the per-job calls (start, input,
// upload, report). Registration retries until the context ends.
func WithMaxAttempts(n int) Option {
	return func(a *Agent) { a.maxAttempts = n }
}

// WithTaskTimeout bounds a single task. Zero means no limit.
func WithTaskTimeout(d time.Duration) Option {
	return func(a *Agent) { a.taskTimeout = d }
}

// WithWorkDir sets the parent of per-task scratch directories.
func WithWorkDir(dir string) Option {
	return func(a *Agent) { a.workDir = dir }
}

// WithMiddleware appends middleware around the task runner, inside the
// built-in chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(a *Agent) { a.middleware = append(a.middleware, mws...) }
}
