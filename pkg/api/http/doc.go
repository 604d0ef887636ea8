// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Task execution, status queries and cancellation
//   - Batch submission
//   - Aggregated execution metrics and dependency health
//   - Liveness and readiness checks
//   - Prometheus metrics
//
// Orchestrator errors are mapped to status codes and stable error codes
// (INVALID_REQUEST, DUPLICATE_TASK, STEP_FAILED, TIMEOUT, CANCELLED,
// OVERLOADED).
package http
