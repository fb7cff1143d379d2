package job

import (
	"fmt"
	"sort"
	"time"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting for a worker.
	StatePending State = "PENDING"
	// StateAssigned means the dispatcher picked a worker that has not yet
	// acknowledged the job.
	StateAssigned State = "ASSIGNED"
	// StateRunning means the assigned worker reported that it started.
	StateRunning State = "RUNNING"
	// StateCompleted means the worker uploaded a result.
	StateCompleted State = "COMPLETED"
	// StateFailed means the worker reported failure or was lost mid-run.
	StateFailed State = "FAILED"
	// StateCollected means an operator retrieved the result.
	StateCollected State = "COLLECTED"
	// StateDeleted marks the copy returned by a delete. Never stored.
	StateDeleted State = "DELETED"
)

// Priority bounds. Lower values are dispatched first.
const (
	PriorityHigh    = 0
	PriorityNormal  = 1
	PriorityLow     = 2
	DefaultPriority = PriorityNormal
)

// States lists every persisted state in lifecycle order.
var States = []State{
	StatePending, StateAssigned, StateRunning,
	StateCompleted, StateFailed, StateCollected,
}

var transitions = map[State][]State{
	StatePending:   {StateAssigned},
	StateAssigned:  {StateRunning, StatePending, StateCompleted, StateFailed},
	StateRunning:   {StateCompleted, StateFailed},
	StateCompleted: {StateCollected},
}

// CanTransition reports whether from → to is an edge of the lifecycle.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a persisted state.
func (s State) Valid() bool {
	for _, v := range States {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a job in s may be deleted without override.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCollected
}

// holdsWorker reports whether a job in s must name its assigned worker.
func (s State) holdsWorker() bool {
	return s == StateAssigned || s == StateRunning || s == StateCompleted || s == StateFailed
}

func (s State) hasOutput() bool {
	return s == StateCompleted || s == StateCollected
}

// Job is a unit of work tracked by the coordinator.
type Job struct {
	cluster.Entity

	ID             id.JobID   `json:"id"`
	Name           string     `json:"name,omitempty"`
	State          State      `json:"state"`
	Priority       int        `json:"priority"`
	StrategyName   string     `json:"strategy"`
	AssignedWorker string     `json:"assigned_worker,omitempty"`
	InputRef       string     `json:"input_ref,omitempty"`
	OutputRef      string     `json:"output_ref,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CollectedAt    *time.Time `json:"collected_at,omitempty"`
}

// New returns a PENDING job with a fresh ID.
func New(name, strategyName, inputRef string, priority int) *Job {
	return &Job{
		Entity:       cluster.NewEntity(),
		ID:           id.NewJobID(),
		Name:         name,
		State:        StatePending,
		Priority:     priority,
		StrategyName: strategyName,
		InputRef:     inputRef,
	}
}

// Validate checks the cross-field invariants of j.
func (j *Job) Validate() error {
	if !j.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", cluster.ErrInvariantViolated, j.State)
	}
	if j.Priority < PriorityHigh || j.Priority > PriorityLow {
		return fmt.Errorf("%w: priority %d out of range", cluster.ErrInvariantViolated, j.Priority)
	}
	if j.State.holdsWorker() != (j.AssignedWorker != "") {
		return fmt.Errorf("%w: assigned_worker %q in state %s", cluster.ErrInvariantViolated, j.AssignedWorker, j.State)
	}
	if j.State.hasOutput() != (j.OutputRef != "") {
		return fmt.Errorf("%w: output_ref %q in state %s", cluster.ErrInvariantViolated, j.OutputRef, j.State)
	}
	if (j.State == StateCollected) != (j.CollectedAt != nil) {
		return fmt.Errorf("%w: collected_at in state %s", cluster.ErrInvariantViolated, j.State)
	}
	if j.Error != "" && j.State != StateFailed {
		return fmt.Errorf("%w: error set in state %s", cluster.ErrInvariantViolated, j.State)
	}
	return nil
}

// Elapsed returns how long the job has been (or was) executing, or zero if
// it never started.
func (j *Job) Elapsed(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := now
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

// Clone returns a copy of j that shares no mutable state with it.
func (j *Job) Clone() *Job {
	cp := *j
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.CollectedAt = cloneTime(j.CollectedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Apply is the compare-and-set step shared by store backends. It checks
// that cur is in expected and that expected → next is an edge, then applies
// patch to a copy, moves it to next, and validates the result. cur is never
// modified.
func Apply(cur *Job, expected, next State, patch func(*Job), now time.Time) (*Job, error) {
	if cur.State != expected {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s",
			cluster.ErrConflictingState, cur.ID, cur.State, expected)
	}
	if !CanTransition(expected, next) {
		return nil, fmt.Errorf("%w: %s -> %s", cluster.ErrInvalidTransition, expected, next)
	}
	out := cur.Clone()
	if patch != nil {
		patch(out)
	}
	out.ID = cur.ID
	out.State = next
	out.CreatedAt = cur.CreatedAt
	out.UpdatedAt = now
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Matches reports whether j passes the filters in opts.
func (o ListOpts) Matches(j *Job) bool {
	if o.State != "" && j.State != o.State {
		return false
	}
	if o.Worker != "" && j.AssignedWorker != o.Worker {
		return false
	}
	return true
}

// SortForDispatch orders jobs by priority, then creation time, then ID.
func SortForDispatch(jobs []*Job) {
	sort.SliceStable(jobs, func(a, b int) bool {
		if jobs[a].Priority != jobs[b].Priority {
			return jobs[a].Priority < jobs[b].Priority
		}
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
		}
		return jobs[a].ID.Compare(jobs[b].ID) < 0
	})
}
