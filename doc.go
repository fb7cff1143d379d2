// Package cluster is the job coordination core for a heterogeneous compute
// cluster. A single coordinator accepts job submissions, tracks a registry
// of worker agents through heartbeats, assigns pending jobs to eligible
// workers through a pluggable dispatch strategy, and drives every job
// through a strict lifecycle:
//
//	PENDING -> ASSIGNED -> RUNNING -> COMPLETED -> COLLECTED
//	                   \-> PENDING   \-> FAILED
//
// Job payloads and results live in an external artifact store; the
// coordinator only keeps references to them.
//
// # Quick Start
//
//	cfg, err := cluster.LoadConfig("coordinator.yaml")
//	st := memory.New()
//	c := coordinator.New(st, artifacts, coordinator.FromConfig(cfg)...)
//	if err := c.Start(ctx); err != nil { ... }
//
// # Architecture
//
// Each subsystem (job, worker) defines its own store interface and the
// aggregate store.Store composes them. Backends: Memory, Redis, Postgres.
// Every job mutation is a compare-and-set on the expected current state,
// so concurrent writers can never move a job along two different edges.
//
// Job IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based identifiers.
package cluster
