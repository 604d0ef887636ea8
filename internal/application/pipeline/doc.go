// Package pipeline runs ordered, data-driven lists of steps against a task.
//
// A Step pairs a name and an owning agent with a Handler. The Executor runs
// steps strictly in order and checks the task's context before each one, so
// cancellation and deadlines are observed at step boundaries. Handlers that
// block for long periods must watch ctx.Done() themselves.
//
// Step lists are resolved per task type from a Catalog, which can be loaded
// from YAML. Handler kinds referenced by the YAML are built by a Registry.
package pipeline
