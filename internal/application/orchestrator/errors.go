package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRequest is wrapped by every request validation failure.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrOverloaded is returned when no execution slot could be obtained
	// before the caller's context ended.
	ErrOverloaded = errors.New("orchestrator overloaded")

	// ErrShuttingDown is returned for requests arriving during shutdown.
	ErrShuttingDown = errors.New("orchestrator is shutting down")

	errTerminal   = errors.New("task is in a terminal state")
	errSuperseded = errors.New("task was resubmitted")
)

// DuplicateTaskError is returned when the task ID already identifies a
// running task.
type DuplicateTaskError struct {
	TaskID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %s is already running", e.TaskID)
}

// TimeoutError is returned when the task deadline passed before the
// pipeline completed. The task ends in the cancelled state.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s exceeded its timeout of %s", e.TaskID, e.Timeout)
}

// CancelledError is returned when the task was cancelled explicitly, by its
// batch, or by the caller's context.
type CancelledError struct {
	TaskID string
	Reason string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("task %s cancelled: %s", e.TaskID, e.Reason)
}

// StepExecutionError wraps the failure of a step handler.
type StepExecutionError struct {
	TaskID string
	Step   string
	Agent  string
	Err    error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("task %s failed at step %s (agent %s): %v", e.TaskID, e.Step, e.Agent, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

func errNotFound(taskID string) error {
	return fmt.Errorf("task %s not found", taskID)
}
