package domain

// BatchStatus summarizes the outcome of a batch submission
type BatchStatus string

const (
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusPartial   BatchStatus = "partial"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusAborted   BatchStatus = "aborted"
)

// BatchRequest groups execution requests submitted together.
type BatchRequest struct {
	BatchID     string           `json:"batch_id"`
	Tasks       []ExecuteRequest `json:"tasks"`
	Parallel    bool             `json:"parallel"`
	StopOnError bool             `json:"stop_on_error"`
}

// BatchFailure records why a member task was not accepted.
type BatchFailure struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// BatchResult reports how many members were accepted.
// A member is accepted when its Execute call returned without an error,
// irrespective of how far the member got before that.
type BatchResult struct {
	BatchID       string         `json:"batch_id"`
	TotalTasks    int            `json:"total_tasks"`
	AcceptedTasks int            `json:"accepted_tasks"`
	Status        BatchStatus    `json:"status"`
	Failures      []BatchFailure `json:"failures,omitempty"`
}
