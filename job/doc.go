// Package job defines the job entity, its lifecycle state machine, and the
// store interface.
//
// # Job Entity
//
// A [Job] is a unit of work submitted to the coordinator. It embeds
// [cluster.Entity] for timestamps, references its input and output by
// artifact key rather than carrying bytes, and progresses through:
//
//	PENDING   → ASSIGNED
//	ASSIGNED  → RUNNING | PENDING | COMPLETED | FAILED
//	RUNNING   → COMPLETED | FAILED
//	COMPLETED → COLLECTED
//
// Deletion removes the record from any state; the returned copy carries
// [StateDeleted], which is never persisted.
//
// # Compare-and-set
//
// Every mutation goes through [Store.TransitionJob], which names the state
// the caller believes the job is in. Backends share [Apply] so the edge
// check, the patch, and the invariant check behave identically everywhere.
package job
