// Package middleware wraps an agent's task execution with cross-cutting
// behaviour. A [Middleware] receives the claimed job and the next handler;
// [Chain] composes several of them, first one outermost.
//
//	chain := middleware.Chain(
//	    middleware.Logging(logger),
//	    middleware.Recover(logger),
//	    middleware.Workspace(dir),
//	    middleware.Timeout(10*time.Minute),
//	)
//
// Built-in middleware:
//
//   - [Logging] logs start and outcome of each task
//   - [Recover] converts a runner panic into a job failure
//   - [Timeout] bounds how long a task may run
//   - [Workspace] gives each task a scratch directory, removed afterwards
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records task duration and outcome counters
package middleware
