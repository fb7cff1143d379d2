// Package storetest is a conformance suite shared by every store.Store
// backend. Backends call Run from their own tests with a factory that
// returns an empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/store"
	"github.com/blakecragen/cluster/worker"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full conformance suite against the stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"JobCreateAndGet", testJobCreateAndGet},
		{"JobListOrderAndFilter", testJobListOrderAndFilter},
		{"TransitionCompareAndSet", testTransitionCompareAndSet},
		{"TransitionRace", testTransitionRace},
		{"DeleteJob", testDeleteJob},
		{"WorkerUpsert", testWorkerUpsert},
		{"WorkerHeartbeat", testWorkerHeartbeat},
		{"WorkerCurrentJob", testWorkerCurrentJob},
		{"WorkerRemove", testWorkerRemove},
		{"InvariantOverRandomTransitions", testInvariantOverRandomTransitions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// ts returns a timestamp every backend round-trips exactly.
func ts(offset time.Duration) time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
}

func newJob(name string, priority int, created time.Time) *job.Job {
	j := job.New(name, "default", "inputs/"+name, priority)
	j.CreatedAt = created
	j.UpdatedAt = created
	return j
}

func assign(w string) func(*job.Job) {
	return func(j *job.Job) { j.AssignedWorker = w }
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

func testJobCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("input.txt", job.PriorityHigh, ts(0))

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, cluster.ErrJobAlreadyExists) {
		t.Fatalf("duplicate CreateJob: want ErrJobAlreadyExists, got %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID.String() != j.ID.String() || got.Name != j.Name || got.State != job.StatePending {
		t.Errorf("GetJob mismatch: %+v", got)
	}
	if got.InputRef != j.InputRef || got.Priority != j.Priority || got.StrategyName != j.StrategyName {
		t.Errorf("GetJob lost fields: %+v", got)
	}
	if !got.CreatedAt.Equal(j.CreatedAt) {
		t.Errorf("CreatedAt: want %v, got %v", j.CreatedAt, got.CreatedAt)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, cluster.ErrJobNotFound) {
		t.Fatalf("GetJob missing: want ErrJobNotFound, got %v", err)
	}

	bad := newJob("bad", job.DefaultPriority, ts(0))
	bad.State = job.StateRunning
	if err := s.CreateJob(ctx, bad); err == nil {
		t.Fatal("CreateJob accepted a non-pending job")
	}
}

func testJobListOrderAndFilter(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobs := []*job.Job{
		newJob("low", job.PriorityLow, ts(0)),
		newJob("normal-late", job.PriorityNormal, ts(2*time.Second)),
		newJob("normal-early", job.PriorityNormal, ts(time.Second)),
		newJob("high", job.PriorityHigh, ts(3*time.Second)),
	}
	for _, j := range jobs {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob %s: %v", j.Name, err)
		}
	}
	if _, err := s.TransitionJob(ctx, jobs[0].ID, job.StatePending, job.StateAssigned, assign("w1")); err != nil {
		t.Fatalf("TransitionJob: %v", err)
	}

	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	want := []string{"high", "normal-early", "normal-late", "low"}
	if len(all) != len(want) {
		t.Fatalf("ListJobs: want %d jobs, got %d", len(want), len(all))
	}
	for i, name := range want {
		if all[i].Name != name {
			t.Errorf("position %d: want %s, got %s", i, name, all[i].Name)
		}
	}

	pending, err := s.ListJobs(ctx, job.ListOpts{State: job.StatePending})
	if err != nil {
		t.Fatalf("ListJobs pending: %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("pending: want 3, got %d", len(pending))
	}

	mine, err := s.ListJobs(ctx, job.ListOpts{Worker: "w1"})
	if err != nil {
		t.Fatalf("ListJobs worker: %v", err)
	}
	if len(mine) != 1 || mine[0].Name != "low" {
		t.Errorf("worker filter: got %d jobs", len(mine))
	}

	limited, err := s.ListJobs(ctx, job.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs limit: %v", err)
	}
	if len(limited) != 2 || limited[0].Name != "high" {
		t.Errorf("limit: got %d jobs", len(limited))
	}
}

func testTransitionCompareAndSet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("cas", job.DefaultPriority, ts(0))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	out, err := s.TransitionJob(ctx, j.ID, job.StatePending, job.StateAssigned, assign("w1"))
	if err != nil {
		t.Fatalf("TransitionJob: %v", err)
	}
	if out.State != job.StateAssigned || out.AssignedWorker != "w1" {
		t.Fatalf("unexpected result: %+v", out)
	}

	// Stale caller still believes the job is pending.
	_, err = s.TransitionJob(ctx, j.ID, job.StatePending, job.StateAssigned, assign("w2"))
	if !errors.Is(err, cluster.ErrConflictingState) {
		t.Fatalf("stale transition: want ErrConflictingState, got %v", err)
	}
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateAssigned || got.AssignedWorker != "w1" {
		t.Errorf("stale transition mutated the record: %+v", got)
	}

	// A patch that breaks an invariant is rejected without writing.
	_, err = s.TransitionJob(ctx, j.ID, job.StateAssigned, job.StateRunning, func(j *job.Job) {
		j.AssignedWorker = ""
	})
	if !errors.Is(err, cluster.ErrInvariantViolated) {
		t.Fatalf("bad patch: want ErrInvariantViolated, got %v", err)
	}

	// Full happy path through to COLLECTED.
	started := ts(time.Minute)
	if _, err = s.TransitionJob(ctx, j.ID, job.StateAssigned, job.StateRunning, func(j *job.Job) {
		j.StartedAt = &started
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := ts(2 * time.Minute)
	if _, err = s.TransitionJob(ctx, j.ID, job.StateRunning, job.StateCompleted, func(j *job.Job) {
		j.OutputRef = "results/out.txt"
		j.CompletedAt = &done
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	collected := ts(3 * time.Minute)
	out, err = s.TransitionJob(ctx, j.ID, job.StateCompleted, job.StateCollected, func(j *job.Job) {
		j.CollectedAt = &collected
		j.AssignedWorker = ""
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if out.CollectedAt == nil || !out.CollectedAt.Equal(collected) {
		t.Errorf("CollectedAt: want %v, got %v", collected, out.CollectedAt)
	}

	got, err = s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCollected || got.OutputRef != "results/out.txt" || got.AssignedWorker != "" {
		t.Errorf("final record: %+v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt not persisted: %v", got.StartedAt)
	}

	if _, err := s.TransitionJob(ctx, id.NewJobID(), job.StatePending, job.StateAssigned, assign("w1")); !errors.Is(err, cluster.ErrJobNotFound) {
		t.Errorf("missing job: want ErrJobNotFound, got %v", err)
	}
}

func testTransitionRace(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("race", job.DefaultPriority, ts(0))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	const contenders = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for i := range contenders {
		wg.Add(1)
		go func(w string) {
			defer wg.Done()
			_, err := s.TransitionJob(ctx, j.ID, job.StatePending, job.StateAssigned, assign(w))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, w)
			case errors.Is(err, cluster.ErrConflictingState):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("w%d", i))
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("want exactly one winner, got %v", winners)
	}
	if conflicts != contenders-1 {
		t.Errorf("want %d conflicts, got %d", contenders-1, conflicts)
	}
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.AssignedWorker != winners[0] {
		t.Errorf("stored worker %q, winner %q", got.AssignedWorker, winners[0])
	}
}

func testDeleteJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("delete-me", job.DefaultPriority, ts(0))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if _, err := s.DeleteJob(ctx, j.ID, job.StateCompleted); !errors.Is(err, cluster.ErrConflictingState) {
		t.Fatalf("stale delete: want ErrConflictingState, got %v", err)
	}

	out, err := s.DeleteJob(ctx, j.ID, job.StatePending)
	if err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if out.State != job.StateDeleted || out.InputRef != j.InputRef {
		t.Errorf("DeleteJob returned %+v", out)
	}

	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, cluster.ErrJobNotFound) {
		t.Errorf("GetJob after delete: want ErrJobNotFound, got %v", err)
	}
	if _, err := s.DeleteJob(ctx, j.ID, job.StatePending); !errors.Is(err, cluster.ErrJobNotFound) {
		t.Errorf("second delete: want ErrJobNotFound, got %v", err)
	}
	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("deleted job still listed: %d", len(all))
	}
}

// ──────────────────────────────────────────────────
// Worker Store
// ──────────────────────────────────────────────────

func newWorker(workerID string, hb time.Time, caps ...string) *worker.Worker {
	return &worker.Worker{
		Info: worker.Info{
			Hostname: workerID + ".lan",
			OS:       "linux",
			CPU:      "arm64",
			Kernel:   "6.1.0",
			IP:       "10.0.0.7",
		},
		ID:            workerID,
		Capabilities:  caps,
		LastHeartbeat: hb,
		RegisteredAt:  hb,
	}
}

func testWorkerUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()

	w, err := s.UpsertWorker(ctx, newWorker("w1", ts(0), "linux/arm64"))
	if err != nil {
		t.Fatalf("UpsertWorker: %v", err)
	}
	if w.Hostname != "w1.lan" || len(w.Capabilities) != 1 {
		t.Errorf("UpsertWorker returned %+v", w)
	}
	if err := s.SetCurrentJob(ctx, "w1", "", "job_x"); err != nil {
		t.Fatalf("SetCurrentJob: %v", err)
	}

	// Re-registration updates capabilities but keeps the held job.
	w, err = s.UpsertWorker(ctx, newWorker("w1", ts(time.Minute), "linux/arm64", "runner/default"))
	if err != nil {
		t.Fatalf("UpsertWorker again: %v", err)
	}
	if w.CurrentJob != "job_x" {
		t.Errorf("CurrentJob lost on re-register: %q", w.CurrentJob)
	}
	if !w.RegisteredAt.Equal(ts(0)) {
		t.Errorf("RegisteredAt changed: %v", w.RegisteredAt)
	}
	if !w.LastHeartbeat.Equal(ts(time.Minute)) {
		t.Errorf("LastHeartbeat: want %v, got %v", ts(time.Minute), w.LastHeartbeat)
	}

	got, err := s.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if len(got.Capabilities) != 2 || got.CPU != "arm64" {
		t.Errorf("GetWorker: %+v", got)
	}
	if _, err := s.GetWorker(ctx, "nope"); !errors.Is(err, cluster.ErrWorkerNotFound) {
		t.Errorf("GetWorker missing: want ErrWorkerNotFound, got %v", err)
	}

	if _, err := s.UpsertWorker(ctx, newWorker("w0", ts(0))); err != nil {
		t.Fatalf("UpsertWorker w0: %v", err)
	}
	all, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(all) != 2 || all[0].ID != "w0" || all[1].ID != "w1" {
		t.Errorf("ListWorkers order: %v", all)
	}
}

func testWorkerHeartbeat(t *testing.T, s store.Store) {
	ctx := context.Background()

	if err := s.HeartbeatWorker(ctx, "ghost", ts(0)); !errors.Is(err, cluster.ErrUnknownWorker) {
		t.Fatalf("unknown worker: want ErrUnknownWorker, got %v", err)
	}

	if _, err := s.UpsertWorker(ctx, newWorker("w1", ts(0))); err != nil {
		t.Fatalf("UpsertWorker: %v", err)
	}
	if err := s.HeartbeatWorker(ctx, "w1", ts(10*time.Second)); err != nil {
		t.Fatalf("HeartbeatWorker: %v", err)
	}
	// Out-of-order delivery is ignored.
	if err := s.HeartbeatWorker(ctx, "w1", ts(5*time.Second)); err != nil {
		t.Fatalf("HeartbeatWorker old: %v", err)
	}

	got, err := s.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if !got.LastHeartbeat.Equal(ts(10 * time.Second)) {
		t.Errorf("LastHeartbeat: want %v, got %v", ts(10*time.Second), got.LastHeartbeat)
	}
}

func testWorkerCurrentJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.UpsertWorker(ctx, newWorker("w1", ts(0))); err != nil {
		t.Fatalf("UpsertWorker: %v", err)
	}

	if err := s.SetCurrentJob(ctx, "w1", "", "job_a"); err != nil {
		t.Fatalf("SetCurrentJob: %v", err)
	}
	if err := s.SetCurrentJob(ctx, "w1", "", "job_b"); !errors.Is(err, cluster.ErrConflictingState) {
		t.Fatalf("busy worker: want ErrConflictingState, got %v", err)
	}
	if err := s.SetCurrentJob(ctx, "w1", "job_a", ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := s.SetCurrentJob(ctx, "ghost", "", "job_a"); !errors.Is(err, cluster.ErrWorkerNotFound) {
		t.Fatalf("missing worker: want ErrWorkerNotFound, got %v", err)
	}

	got, err := s.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if got.CurrentJob != "" {
		t.Errorf("CurrentJob: want empty, got %q", got.CurrentJob)
	}
}

func testWorkerRemove(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.UpsertWorker(ctx, newWorker("w1", ts(0))); err != nil {
		t.Fatalf("UpsertWorker: %v", err)
	}
	if err := s.RemoveWorker(ctx, "w1"); err != nil {
		t.Fatalf("RemoveWorker: %v", err)
	}
	if err := s.RemoveWorker(ctx, "w1"); !errors.Is(err, cluster.ErrWorkerNotFound) {
		t.Errorf("second remove: want ErrWorkerNotFound, got %v", err)
	}
	all, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("removed worker still listed")
	}
}

// ──────────────────────────────────────────────────
// Property: whatever sequence of transitions callers attempt, every
// stored job satisfies the invariants and stale attempts change nothing.
// ──────────────────────────────────────────────────

func testInvariantOverRandomTransitions(t *testing.T, s store.Store) {
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		j := newJob("prop", job.DefaultPriority, ts(0))
		if err := s.CreateJob(ctx, j); err != nil {
			rt.Fatalf("CreateJob: %v", err)
		}

		steps := rapid.IntRange(1, 15).Draw(rt, "steps")
		for range steps {
			before, err := s.GetJob(ctx, j.ID)
			if err != nil {
				rt.Fatalf("GetJob: %v", err)
			}

			expected := rapid.SampledFrom(job.States).Draw(rt, "expected")
			next := rapid.SampledFrom(job.States).Draw(rt, "next")
			w := rapid.SampledFrom([]string{"", "w1", "w2"}).Draw(rt, "worker")
			out := rapid.SampledFrom([]string{"", "results/r"}).Draw(rt, "output")
			msg := rapid.SampledFrom([]string{"", cluster.ErrWorkerLost.Error()}).Draw(rt, "error")
			collect := rapid.Bool().Draw(rt, "collect")

			_, err = s.TransitionJob(ctx, j.ID, expected, next, func(j *job.Job) {
				j.AssignedWorker = w
				j.OutputRef = out
				j.Error = msg
				j.CollectedAt = nil
				if collect {
					at := ts(time.Hour)
					j.CollectedAt = &at
				}
			})

			after, getErr := s.GetJob(ctx, j.ID)
			if getErr != nil {
				rt.Fatalf("GetJob: %v", getErr)
			}
			if vErr := after.Validate(); vErr != nil {
				rt.Fatalf("stored job violates invariants: %v", vErr)
			}
			if err != nil {
				if expected != before.State && !errors.Is(err, cluster.ErrConflictingState) {
					rt.Fatalf("stale expected gave %v", err)
				}
				if after.State != before.State || after.AssignedWorker != before.AssignedWorker ||
					after.OutputRef != before.OutputRef || after.Error != before.Error {
					rt.Fatalf("failed transition mutated the record: %+v -> %+v", before, after)
				}
			}
		}
	})
}
