// Package workers provides the execution budget and background jobs of the
// orchestrator.
//
// Budget bounds the number of in-flight executions so that caller
// concurrency cannot grow orchestrator concurrency without limit. Callers
// block in Acquire until a slot frees up or their context ends.
//
// Monitor runs periodic jobs (dependency health checks, registry sweeps,
// budget saturation reports) on independent tickers until stopped.
package workers
