// Package domain contains the value types shared by the orchestration core,
// its adapters and its wire facades: task records and statuses, batch
// requests and results, metrics snapshots, lifecycle events and dependency
// health reports.
package domain
