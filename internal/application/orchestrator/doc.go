// Package orchestrator implements the task orchestration core.
//
// The Manager is the composition root. It exposes six operations:
//   - Execute runs one task through the pipeline resolved for its type
//   - GetStatus returns a snapshot of a task record (not_found for unknown IDs)
//   - Cancel requests early termination of a running task
//   - SubmitBatch executes several tasks sequentially or in parallel
//   - CheckDependencies aggregates external liveness probes
//   - GetMetrics returns the execution metrics snapshot
//
// Task records live in a TaskRegistry and are only ever replaced whole, so
// readers never observe a partially updated record. Every running task owns
// a CancellationHandle whose context carries explicit cancellation, batch
// cancellation and the task deadline. The handle is removed exactly once
// whichever way the task ends.
//
// Cancellation is observed between pipeline steps. A step handler that
// blocks for a long time must watch its context to be interruptible.
package orchestrator
