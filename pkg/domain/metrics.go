package domain

import "time"

// AgentStatus is derived from an agent's operation counters
type AgentStatus string

const (
	AgentStatusIdle     AgentStatus = "idle"
	AgentStatusHealthy  AgentStatus = "healthy"
	AgentStatusDegraded AgentStatus = "degraded"
)

// AgentMetrics is a snapshot of one agent's counters
type AgentMetrics struct {
	AgentName      string      `json:"agent_name"`
	Status         AgentStatus `json:"status"`
	TasksProcessed int64       `json:"tasks_processed"`
	TotalLatencyMs float64     `json:"total_latency_ms"`
	ErrorCount     int64       `json:"error_count"`
	AvgLatencyMs   float64     `json:"avg_latency_ms"`
}

// TaskTypeMetrics is a snapshot of one task type's counters
type TaskTypeMetrics struct {
	TaskType             string  `json:"task_type"`
	Count                int64   `json:"count"`
	SuccessCount         int64   `json:"success_count"`
	TotalExecutionTimeMs float64 `json:"total_execution_time_ms"`
	AvgExecutionTimeMs   float64 `json:"avg_execution_time_ms"`
	SuccessRate          float64 `json:"success_rate"`
}

// MetricsSnapshot is an advisory, eventually-consistent view of the aggregator.
// No cross-field atomicity is implied.
type MetricsSnapshot struct {
	TotalTasksProcessed  int64             `json:"total_tasks_processed"`
	SuccessfulTasks      int64             `json:"successful_tasks"`
	ActiveTasks          int64             `json:"active_tasks"`
	TotalExecutionTimeMs float64           `json:"total_execution_time_ms"`
	SuccessRate          float64           `json:"success_rate"`
	AvgExecutionTimeMs   float64           `json:"avg_execution_time_ms"`
	Agents               []AgentMetrics    `json:"agents"`
	TaskTypes            []TaskTypeMetrics `json:"task_types"`
	Timestamp            time.Time         `json:"timestamp"`
}
