package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiter hands out one token bucket per worker. It is safe for concurrent
// use. A nil limiter allows everything.
type limiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	workers map[string]*rate.Limiter
}

func newLimiter(perSecond float64, burst int) *limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		workers: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether workerID may make a request now.
func (l *limiter) Allow(workerID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.workers[workerID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.workers[workerID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Forget drops the bucket of a removed worker.
func (l *limiter) Forget(workerID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.workers, workerID)
	l.mu.Unlock()
}
