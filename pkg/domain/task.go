package domain

import "time"

// TaskStatus represents the lifecycle status of a task
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"

	// TaskStatusNotFound is returned for unknown task IDs and is never stored.
	TaskStatusNotFound TaskStatus = "not_found"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

const (
	DefaultPriority = 5
	MinPriority     = 1
	MaxPriority     = 10

	DefaultTimeoutMs = 30000
)

// TaskRecord is the in-memory representation of one execution.
// Records are handed out by value; a copy never changes after it is returned.
type TaskRecord struct {
	TaskID          string     `json:"task_id"`
	TaskType        string     `json:"task_type,omitempty"`
	Status          TaskStatus `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	CurrentStep     string     `json:"current_step,omitempty"`
	StartTime       time.Time  `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	Priority        int        `json:"priority,omitempty"`
	CorrelationID   string     `json:"correlation_id,omitempty"`
	BatchID         string     `json:"batch_id,omitempty"`
	Result          []byte     `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// NotFoundRecord returns the sentinel record reported for unknown task IDs.
func NotFoundRecord(taskID string) TaskRecord {
	return TaskRecord{TaskID: taskID, Status: TaskStatusNotFound}
}

// Clone returns a deep copy of the record.
func (r TaskRecord) Clone() TaskRecord {
	if r.EndTime != nil {
		t := *r.EndTime
		r.EndTime = &t
	}
	if r.Result != nil {
		r.Result = append([]byte(nil), r.Result...)
	}
	return r
}

// ExecuteRequest describes a single execution request.
type ExecuteRequest struct {
	TaskID        string `json:"task_id"`
	TaskType      string `json:"task_type"`
	Payload       []byte `json:"payload,omitempty"`
	Priority      int    `json:"priority,omitempty"`
	TimeoutMs     int64  `json:"timeout_ms,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ExecutionResult is returned by Execute for every request that created a record.
type ExecutionResult struct {
	TaskID        string        `json:"task_id"`
	Status        TaskStatus    `json:"status"`
	Output        []byte        `json:"output,omitempty"`
	CorrelationID string        `json:"correlation_id"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}
