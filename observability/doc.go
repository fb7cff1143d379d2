// Package observability provides lifecycle extensions for the coordinator.
// MetricsExtension records OpenTelemetry counters and a duration histogram
// for job and worker events. LoggingExtension writes one structured log
// line per event.
//
// Tracing of the dispatch and reconcile cycles is configured on the
// coordinator itself with coordinator.WithTracer.
package observability
