package worker

import (
	"slices"
	"strings"
	"time"
)

// Status is the liveness of a worker derived from its last heartbeat.
type Status string

const (
	// StatusOnline means the worker heartbeated within the window.
	StatusOnline Status = "ONLINE"
	// StatusOffline means the worker has been silent for at least the window.
	StatusOffline Status = "OFFLINE"
)

// Info is the descriptive host information an agent reports at
// registration. The coordinator displays it but never acts on it.
type Info struct {
	Hostname   string `json:"hostname"`
	OS         string `json:"os"`
	CPU        string `json:"cpu"`
	Kernel     string `json:"kernel"`
	IP         string `json:"ip"`
	TaskRunner string `json:"task_runner,omitempty"`
}

// Worker is a registered agent.
type Worker struct {
	Info

	ID            string    `json:"id"`
	Capabilities  []string  `json:"capabilities"`
	CurrentJob    string    `json:"current_job,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// StatusAt returns ONLINE if the last heartbeat is less than window before now.
func (w *Worker) StatusAt(now time.Time, window time.Duration) Status {
	if now.Sub(w.LastHeartbeat) < window {
		return StatusOnline
	}
	return StatusOffline
}

// SilentFor returns how long the worker has gone without a heartbeat.
func (w *Worker) SilentFor(now time.Time) time.Duration {
	return now.Sub(w.LastHeartbeat)
}

// HasCapabilities reports whether the worker's capabilities are a superset
// of tags.
func (w *Worker) HasCapabilities(tags []string) bool {
	for _, t := range tags {
		if !slices.Contains(w.Capabilities, NormalizeTag(t)) {
			return false
		}
	}
	return true
}

// Idle reports whether the worker holds no job.
func (w *Worker) Idle() bool { return w.CurrentJob == "" }

// Clone returns a deep copy of w.
func (w *Worker) Clone() *Worker {
	cp := *w
	cp.Capabilities = slices.Clone(w.Capabilities)
	return &cp
}

// Record is a worker together with the status computed for one query.
type Record struct {
	*Worker
	Status Status `json:"status"`
}

// NormalizeTag lowercases and trims a capability tag.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// NormalizeTags normalizes, deduplicates and sorts tags, dropping empties.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if n := NormalizeTag(t); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
