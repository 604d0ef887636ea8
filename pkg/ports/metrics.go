package ports

import "time"

// MetricsCollector exports orchestration metrics to an external system
type MetricsCollector interface {
	RecordTaskStarted(taskType string)
	RecordTaskFinished(taskType string, status string, duration time.Duration)
	RecordStep(agent string, success bool, duration time.Duration)
	RecordBatch(status string, accepted, total int)
	SetActiveTasks(count int64)
	SetWorkerBudget(capacity, inUse int64)
	SetDependencyHealth(name string, healthy bool, latency time.Duration)
}
