// Package health checks the external services the orchestrator depends on.
//
// A Checker runs a set of probes concurrently and reports one
// domain.DependencyStatus per probe. Probes are provided for Redis,
// PostgreSQL, gRPC health endpoints and plain HTTP endpoints.
package health
