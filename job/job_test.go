package job_test

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/job"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to job.State
		want     bool
	}{
		{job.StatePending, job.StateAssigned, true},
		{job.StatePending, job.StateRunning, false},
		{job.StateAssigned, job.StateRunning, true},
		{job.StateAssigned, job.StatePending, true},
		{job.StateAssigned, job.StateCompleted, true},
		{job.StateAssigned, job.StateFailed, true},
		{job.StateRunning, job.StateCompleted, true},
		{job.StateRunning, job.StateFailed, true},
		{job.StateRunning, job.StatePending, false},
		{job.StateCompleted, job.StateCollected, true},
		{job.StateCompleted, job.StateFailed, false},
		{job.StateFailed, job.StatePending, false},
		{job.StateCollected, job.StateCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := job.CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		mutate  func(j *job.Job)
		wantErr bool
	}{
		{"pending ok", func(_ *job.Job) {}, false},
		{"pending with worker", func(j *job.Job) { j.AssignedWorker = "w1" }, true},
		{"assigned without worker", func(j *job.Job) { j.State = job.StateAssigned }, true},
		{"assigned ok", func(j *job.Job) { j.State = job.StateAssigned; j.AssignedWorker = "w1" }, false},
		{"completed without output", func(j *job.Job) {
			j.State = job.StateCompleted
			j.AssignedWorker = "w1"
		}, true},
		{"completed ok", func(j *job.Job) {
			j.State = job.StateCompleted
			j.AssignedWorker = "w1"
			j.OutputRef = "results/out.txt"
		}, false},
		{"collected keeps worker", func(j *job.Job) {
			j.State = job.StateCollected
			j.AssignedWorker = "w1"
			j.OutputRef = "results/out.txt"
			j.CollectedAt = &now
		}, true},
		{"collected ok", func(j *job.Job) {
			j.State = job.StateCollected
			j.OutputRef = "results/out.txt"
			j.CollectedAt = &now
		}, false},
		{"collected_at outside collected", func(j *job.Job) { j.CollectedAt = &now }, true},
		{"error outside failed", func(j *job.Job) { j.Error = "boom" }, true},
		{"failed ok", func(j *job.Job) {
			j.State = job.StateFailed
			j.AssignedWorker = "w1"
			j.Error = "boom"
		}, false},
		{"priority out of range", func(j *job.Job) { j.Priority = 7 }, true},
		{"unknown state", func(j *job.Job) { j.State = "LIMBO" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j := job.New("input.txt", "default", "inputs/input.txt", job.DefaultPriority)
			tt.mutate(j)
			err := j.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, cluster.ErrInvariantViolated) {
				t.Errorf("expected ErrInvariantViolated, got %v", err)
			}
		})
	}
}

func TestApply(t *testing.T) {
	now := time.Now().UTC()
	assign := func(j *job.Job) { j.AssignedWorker = "w1" }

	t.Run("success", func(t *testing.T) {
		cur := job.New("a", "default", "", job.DefaultPriority)
		out, err := job.Apply(cur, job.StatePending, job.StateAssigned, assign, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.State != job.StateAssigned || out.AssignedWorker != "w1" {
			t.Errorf("unexpected result: %+v", out)
		}
		if !out.UpdatedAt.Equal(now) {
			t.Errorf("UpdatedAt not stamped")
		}
		if cur.State != job.StatePending || cur.AssignedWorker != "" {
			t.Error("Apply must not modify its input")
		}
	})

	t.Run("stale expected", func(t *testing.T) {
		cur := job.New("a", "default", "", job.DefaultPriority)
		_, err := job.Apply(cur, job.StateAssigned, job.StateRunning, nil, now)
		if !errors.Is(err, cluster.ErrConflictingState) {
			t.Fatalf("expected ErrConflictingState, got %v", err)
		}
	})

	t.Run("illegal edge", func(t *testing.T) {
		cur := job.New("a", "default", "", job.DefaultPriority)
		_, err := job.Apply(cur, job.StatePending, job.StateCompleted, nil, now)
		if !errors.Is(err, cluster.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("patch breaks invariant", func(t *testing.T) {
		cur := job.New("a", "default", "", job.DefaultPriority)
		_, err := job.Apply(cur, job.StatePending, job.StateAssigned, nil, now)
		if !errors.Is(err, cluster.ErrInvariantViolated) {
			t.Fatalf("expected ErrInvariantViolated, got %v", err)
		}
	})

	t.Run("patch cannot rewrite identity", func(t *testing.T) {
		cur := job.New("a", "default", "", job.DefaultPriority)
		out, err := job.Apply(cur, job.StatePending, job.StateAssigned, func(j *job.Job) {
			j.AssignedWorker = "w1"
			j.State = job.StateCollected
			j.ID = job.New("b", "", "", 0).ID
		}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.ID.String() != cur.ID.String() || out.State != job.StateAssigned {
			t.Errorf("patch leaked into identity: %+v", out)
		}
	})
}

func TestSortForDispatch(t *testing.T) {
	base := time.Now().UTC()
	mk := func(name string, prio int, offset time.Duration) *job.Job {
		j := job.New(name, "default", "", prio)
		j.CreatedAt = base.Add(offset)
		return j
	}
	jobs := []*job.Job{
		mk("low-old", job.PriorityLow, 0),
		mk("normal-new", job.PriorityNormal, 2*time.Second),
		mk("high", job.PriorityHigh, 5*time.Second),
		mk("normal-old", job.PriorityNormal, time.Second),
	}
	job.SortForDispatch(jobs)

	want := []string{"high", "normal-old", "normal-new", "low-old"}
	for i, name := range want {
		if jobs[i].Name != name {
			t.Errorf("position %d: want %s, got %s", i, name, jobs[i].Name)
		}
	}
}

// ──────────────────────────────────────────────────
// Property: any sequence of Apply calls, with arbitrary patches, only
// ever produces jobs that satisfy the invariants.
// ──────────────────────────────────────────────────

func TestApply_InvariantHoldsOverRandomSequences(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cur := job.New("prop", "default", "inputs/x", job.DefaultPriority)
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")

		for i := 0; i < steps; i++ {
			expected := rapid.SampledFrom(job.States).Draw(rt, "expected")
			next := rapid.SampledFrom(job.States).Draw(rt, "next")
			worker := rapid.SampledFrom([]string{"", "w1", "w2"}).Draw(rt, "worker")
			output := rapid.SampledFrom([]string{"", "results/out"}).Draw(rt, "output")
			errMsg := rapid.SampledFrom([]string{"", "worker lost"}).Draw(rt, "error")
			collect := rapid.Bool().Draw(rt, "collect")

			before := cur.Clone()
			out, err := job.Apply(cur, expected, next, func(j *job.Job) {
				j.AssignedWorker = worker
				j.OutputRef = output
				j.Error = errMsg
				if collect {
					now := time.Now()
					j.CollectedAt = &now
				} else {
					j.CollectedAt = nil
				}
			}, time.Now())

			if cur.State != before.State || cur.AssignedWorker != before.AssignedWorker ||
				cur.OutputRef != before.OutputRef || cur.Error != before.Error ||
				(cur.CollectedAt == nil) != (before.CollectedAt == nil) {
				rt.Fatalf("Apply mutated its input")
			}
			if err != nil {
				if expected != cur.State && !errors.Is(err, cluster.ErrConflictingState) {
					rt.Fatalf("stale expected %s (actual %s) gave %v", expected, cur.State, err)
				}
				continue
			}
			if vErr := out.Validate(); vErr != nil {
				rt.Fatalf("invariant broken after %s -> %s: %v", expected, next, vErr)
			}
			cur = out
		}
	})
}
