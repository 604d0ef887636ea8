// Package metrics implements the in-process MetricsAggregator.
//
// The aggregator keeps global counters plus lazily created per-task-type and
// per-agent records. Every counter is updated with atomics, so concurrent
// recorders for unrelated keys never contend on a shared lock. Snapshots are
// advisory: fields are read independently and may be mutually inconsistent
// by in-flight updates.
package metrics
