package domain

import "time"

// EventType represents the type of a lifecycle event
type EventType string

const (
	EventTypeTaskStarted    EventType = "task.started"
	EventTypeTaskProgress   EventType = "task.progress"
	EventTypeTaskCompleted  EventType = "task.completed"
	EventTypeTaskFailed     EventType = "task.failed"
	EventTypeTaskCancelled  EventType = "task.cancelled"
	EventTypeBatchSubmitted EventType = "batch.submitted"
	EventTypeBatchFinished  EventType = "batch.finished"
)

// TopicTaskEvents is the event bus topic carrying all lifecycle events.
const TopicTaskEvents = "task.events"

// Event represents a task or batch lifecycle event
type Event struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	TaskID        string                 `json:"task_id,omitempty"`
	BatchID       string                 `json:"batch_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Data          map[string]interface{} `json:"data,omitempty"`
}
