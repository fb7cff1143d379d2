// Package coordinator owns the job lifecycle. It is the only writer of job
// and worker records: it accepts submissions, runs the periodic dispatch
// and liveness reconciliation cycles, and applies start, completion,
// collection and delete requests.
//
// Every mutation goes through the store's compare-and-set primitives.
// Updates that must change a job and its worker together (assignment,
// completion, requeue, delete) run inside one coordinator-held critical
// section that covers only the two store writes. Artifact I/O happens
// before or after that section, never inside it.
//
// A minimal setup:
//
//	c := coordinator.New(memory.New(), artifacts,
//		coordinator.WithGracePeriod(time.Minute),
//		coordinator.WithExtension(observability.NewMetricsExtension()),
//	)
//	if err := c.Start(ctx); err != nil { ... }
//	defer c.Stop(ctx)
package coordinator
