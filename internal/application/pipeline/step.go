package pipeline

import (
	"context"
	"fmt"
)

// StepInput is passed to a handler. Payload is the task payload for the first
// step and the previous step's output afterwards.
type StepInput struct {
	TaskID        string
	TaskType      string
	CorrelationID string
	StepIndex     int
	StepName      string
	Agent         string
	Payload       []byte
}

// Handler performs the work of one step.
//
// ctx is cancelled on explicit cancellation, batch cancellation or deadline
// expiry. The executor only checks it between steps, so a handler doing long
// blocking work must return promptly once ctx is done.
type Handler interface {
	Handle(ctx context.Context, in *StepInput) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, in *StepInput) ([]byte, error)

// Handle calls f(ctx, in)
func (f HandlerFunc) Handle(ctx context.Context, in *StepInput) ([]byte, error) {
	return f(ctx, in)
}

// Step describes one pipeline stage
type Step struct {
	Name    string
	Agent   string
	Handler Handler
}

// Validate checks the step is runnable
func (s Step) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("step name is required")
	}
	if s.Agent == "" {
		return fmt.Errorf("step %s: agent is required", s.Name)
	}
	if s.Handler == nil {
		return fmt.Errorf("step %s: handler is required", s.Name)
	}
	return nil
}
