package middleware

import (
	"context"

	"github.com/blakecragen/cluster/job"
)

// Handler runs the task for the job the chain was invoked with.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler. It must call next unless it deliberately
// short-circuits.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes mws into one Middleware. The first element is the
// outermost wrapper: Chain(a, b) runs a → b → handler.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, inner := mws[i], h
			h = func(ctx context.Context) error { return mw(ctx, j, inner) }
		}
		return h(ctx)
	}
}
