// Package agent is the worker side of the cluster: a long-running process
// that registers with the coordinator, heartbeats, polls for the job
// assigned to it, runs that job through a TaskRunner and reports the
// outcome.
//
// The agent never picks work itself. It only executes what the coordinator
// assigned, acknowledges the start, downloads the input through the
// coordinator, and uploads the result or reports a failure. When the
// coordinator is unreachable it retries with backoff; when the coordinator
// no longer knows it (state store reset, operator removal) it registers
// again.
package agent
