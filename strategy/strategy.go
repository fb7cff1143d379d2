// Package strategy provides the dispatch strategies that pick a worker for
// a pending job. Strategies are pure: they read the job and the eligible
// workers and return a choice, never mutating either. Returning false
// defers the job to the next dispatch cycle.
//
// A job names its strategy at submission time as "name" or
// "name:tag1,tag2", e.g. "capability-match:linux/arm64". The part after
// the colon is handed to the strategy as the job's required tags.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/worker"
)

// Built-in strategy names.
const (
	NameDefault         = "default"
	NameCapabilityMatch = "capability-match"
)

// Strategy selects a worker for a pending job.
type Strategy interface {
	// Name returns the name jobs use to request this strategy.
	Name() string

	// Select returns the chosen worker, or false to defer the job.
	Select(j *job.Job, eligible []worker.Record) (worker.Record, bool)
}

// Parse splits a strategy name into its base name and tags. An empty name
// resolves to the default strategy.
func Parse(name string) (base string, tags []string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return NameDefault, nil
	}
	base, rest, found := strings.Cut(name, ":")
	base = strings.ToLower(strings.TrimSpace(base))
	if !found {
		return base, nil
	}
	return base, worker.NormalizeTags(strings.Split(rest, ","))
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// Default picks the idle worker with the oldest heartbeat, so no single
// worker is starved or monopolised.
type Default struct{}

// Name implements Strategy.
func (Default) Name() string { return NameDefault }

// Select implements Strategy.
func (Default) Select(_ *job.Job, eligible []worker.Record) (worker.Record, bool) {
	return oldestIdle(eligible, nil)
}

// ──────────────────────────────────────────────────
// CapabilityMatch
// ──────────────────────────────────────────────────

// CapabilityMatch behaves like Default but only considers workers whose
// capabilities include every tag in the job's strategy name.
type CapabilityMatch struct{}

// Name implements Strategy.
func (CapabilityMatch) Name() string { return NameCapabilityMatch }

// Select implements Strategy.
func (CapabilityMatch) Select(j *job.Job, eligible []worker.Record) (worker.Record, bool) {
	_, tags := Parse(j.StrategyName)
	return oldestIdle(eligible, tags)
}

func oldestIdle(eligible []worker.Record, tags []string) (worker.Record, bool) {
	var (
		best  worker.Record
		found bool
	)
	for _, rec := range eligible {
		if rec.Worker == nil || !rec.Idle() || rec.Status != worker.StatusOnline {
			continue
		}
		if !rec.HasCapabilities(tags) {
			continue
		}
		if !found || older(rec, best) {
			best, found = rec, true
		}
	}
	return best, found
}

// older orders by heartbeat, breaking ties by id so selection is
// deterministic.
func older(a, b worker.Record) bool {
	if !a.LastHeartbeat.Equal(b.LastHeartbeat) {
		return a.LastHeartbeat.Before(b.LastHeartbeat)
	}
	return a.ID < b.ID
}

// ──────────────────────────────────────────────────
// Registry
// ──────────────────────────────────────────────────

// Registry maps strategy base names to implementations. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry(extra ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(Default{})
	r.Register(CapabilityMatch{})
	for _, s := range extra {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a strategy under its name.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[strings.ToLower(s.Name())] = s
}

// Lookup resolves a full strategy name such as "capability-match:gpu".
func (r *Registry) Lookup(name string) (Strategy, error) {
	base, _ := Parse(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[base]
	if !ok {
		return nil, fmt.Errorf("%w: %q", cluster.ErrUnknownStrategy, base)
	}
	return s, nil
}

// Names returns all registered strategy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
