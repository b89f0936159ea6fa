// Package observability provides OpenTelemetry-based metrics extensions.
// The MetricsExtension implements lifecycle hooks to record system-wide
// counters for task submission, completion, failure, cancellation, orphan
// reclamation, content saves, and artifact fetches.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
