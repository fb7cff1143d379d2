// Package worker provides the worker registry: the record of every agent
// that has registered with the coordinator, its declared capabilities, and
// the time of its last heartbeat.
//
// # Worker Entity
//
// Each agent registers as a [Worker] with:
//   - an agent-chosen id (hostname plus a random salt)
//   - a set of capability tags such as "linux/arm64" or "runner/default"
//   - descriptive host information shown on the dashboard
//   - the id of the job it currently holds, if any
//
// # Liveness
//
// Status is never stored. [Worker.StatusAt] compares the last heartbeat to
// a caller-supplied window at query time, so the dashboard, the dispatcher
// and the reconciler can each apply their own threshold to the same record.
//
// Heartbeats are monotonic: a store ignores a heartbeat timestamp older
// than the one already recorded.
package worker
