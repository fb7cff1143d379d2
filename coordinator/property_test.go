package coordinator_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/blakecragen/cluster/coordinator"
	"github.com/blakecragen/cluster/job"
)

// TestProperty_AssignmentsStayPaired drives the coordinator with random
// operations and checks after every step that job and worker records
// agree: a worker holds at most one job, and every ASSIGNED or RUNNING
// job is held by the worker it names.
func TestProperty_AssignmentsStayPaired(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(t)
		ctx := context.Background()
		var (
			offset  time.Duration
			workers []string
		)

		rt.Repeat(map[string]func(*rapid.T){
			"register": func(rt *rapid.T) {
				if len(workers) >= 4 {
					rt.Skip("enough workers")
				}
				name := fmt.Sprintf("w%d", len(workers))
				workers = append(workers, name)
				h.register(t, offset, name)
			},
			"remove": func(rt *rapid.T) {
				if len(workers) == 0 {
					rt.Skip("no workers")
				}
				w := rapid.SampledFrom(workers).Draw(rt, "worker")
				_ = h.c.RemoveWorker(ctx, w)
			},
			"reregister": func(rt *rapid.T) {
				if len(workers) == 0 {
					rt.Skip("no workers")
				}
				h.register(t, offset, rapid.SampledFrom(workers).Draw(rt, "worker"))
			},
			"heartbeat": func(rt *rapid.T) {
				if len(workers) == 0 {
					rt.Skip("no workers")
				}
				w := rapid.SampledFrom(workers).Draw(rt, "worker")
				_ = h.c.Heartbeat(ctx, w)
			},
			"submit": func(rt *rapid.T) {
				prio := rapid.IntRange(job.PriorityHigh, job.PriorityLow).Draw(rt, "priority")
				h.submit(t, "", prio)
			},
			"dispatch": func(rt *rapid.T) {
				h.dispatch(t)
			},
			"advance": func(rt *rapid.T) {
				offset += time.Duration(rapid.IntRange(1, 40).Draw(rt, "seconds")) * time.Second
				h.clock.Set(offset)
			},
			"reconcile": func(rt *rapid.T) {
				if _, err := h.c.ReconcileOnce(ctx); err != nil {
					rt.Fatalf("ReconcileOnce: %v", err)
				}
			},
			"start": func(rt *rapid.T) {
				j := pickHeld(rt, h, job.StateAssigned)
				if _, err := h.c.StartJob(ctx, j.ID, j.AssignedWorker); err != nil {
					rt.Fatalf("StartJob: %v", err)
				}
			},
			"complete": func(rt *rapid.T) {
				j := pickHeld(rt, h, "")
				r := coordinator.CompletionReport{JobID: j.ID, WorkerID: j.AssignedWorker, OutputRef: "results/out"}
				if rapid.Bool().Draw(rt, "fail") {
					r = coordinator.CompletionReport{JobID: j.ID, WorkerID: j.AssignedWorker, Error: "boom"}
				}
				if _, err := h.c.Complete(ctx, r); err != nil {
					rt.Fatalf("Complete: %v", err)
				}
			},
			"delete": func(rt *rapid.T) {
				jobs, _ := h.c.Jobs(ctx, job.ListOpts{})
				if len(jobs) == 0 {
					rt.Skip("no jobs")
				}
				j := rapid.SampledFrom(jobs).Draw(rt, "job")
				if _, err := h.c.DeleteJob(ctx, j.ID, true); err != nil {
					rt.Fatalf("DeleteJob: %v", err)
				}
			},
			"": func(rt *rapid.T) {
				checkPaired(rt, h)
			},
		})
	})
}

// pickHeld draws a job that a worker currently holds, optionally in state.
func pickHeld(rt *rapid.T, h *harness, state job.State) *job.Job {
	jobs, _ := h.c.Jobs(context.Background(), job.ListOpts{})
	var held []*job.Job
	for _, j := range jobs {
		if j.State == job.StateAssigned || j.State == job.StateRunning {
			if state == "" || j.State == state {
				held = append(held, j)
			}
		}
	}
	if len(held) == 0 {
		rt.Skip("no held jobs")
	}
	return rapid.SampledFrom(held).Draw(rt, "held")
}

func checkPaired(rt *rapid.T, h *harness) {
	ctx := context.Background()
	jobs, err := h.c.Jobs(ctx, job.ListOpts{})
	if err != nil {
		rt.Fatalf("Jobs: %v", err)
	}
	workers, err := h.store.ListWorkers(ctx)
	if err != nil {
		rt.Fatalf("ListWorkers: %v", err)
	}

	holder := make(map[string]string, len(workers))
	for _, w := range workers {
		holder[w.ID] = w.CurrentJob
	}
	byID := make(map[string]*job.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID.String()] = j
		if j.State != job.StateAssigned && j.State != job.StateRunning {
			continue
		}
		if holder[j.AssignedWorker] != j.ID.String() {
			rt.Fatalf("job %s is %s on %s, but the worker holds %q",
				j.ID, j.State, j.AssignedWorker, holder[j.AssignedWorker])
		}
	}
	for w, cur := range holder {
		if cur == "" {
			continue
		}
		j, ok := byID[cur]
		if !ok {
			rt.Fatalf("worker %s holds missing job %s", w, cur)
		}
		if j.AssignedWorker != w || (j.State != job.StateAssigned && j.State != job.StateRunning) {
			rt.Fatalf("worker %s holds %s which is %s on %q", w, cur, j.State, j.AssignedWorker)
		}
	}
}
