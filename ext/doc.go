// Package ext defines the extension system for the coordinator.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics, writing logs or feeding an audit trail. Each hook is a
// separate interface so extensions opt in only to the events they care
// about.
//
// # Implementing an Extension
//
//	type Notifier struct{}
//
//	func (n *Notifier) Name() string { return "notifier" }
//
//	func (n *Notifier) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Hooks
//
//   - [JobSubmitted]: job persisted as PENDING
//   - [JobAssigned]: dispatcher bound the job to a worker
//   - [JobStarted]: worker acknowledged the job
//   - [JobCompleted]: worker reported success
//   - [JobFailed]: worker reported failure or was lost mid-run
//   - [JobRequeued]: assigned job returned to PENDING
//   - [JobCollected]: operator retrieved the result
//   - [JobDeleted]: job record removed
//
// # Worker Hooks
//
//   - [WorkerRegistered]: worker registered or re-registered
//   - [WorkerLost]: silent worker found holding a job
//
// # Other Hooks
//
//   - [Shutdown]: the coordinator is stopping
//
// The [Registry] fans out each event to every registered extension that
// implements the corresponding hook interface.
package ext
