package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrInterrupted is returned when the run context ends before the pipeline
// completes. The context cause is wrapped alongside it.
var ErrInterrupted = errors.New("pipeline interrupted")

// StepError reports a handler failure
type StepError struct {
	Index int
	Step  string
	Agent string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s, agent %s) failed: %v", e.Index+1, e.Step, e.Agent, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Observer is notified around every step. Calls happen on the goroutine
// running the pipeline, in step order.
type Observer interface {
	StepStarted(index int, step Step)
	StepFinished(index int, step Step, latency time.Duration, err error)
}

// RunSpec describes one pipeline run
type RunSpec struct {
	TaskID        string
	TaskType      string
	CorrelationID string
	Payload       []byte
	Steps         []Step
}

// Executor runs pipelines
type Executor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewExecutor creates a new step executor
func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{
		logger: logger,
		now:    time.Now,
	}
}

// Run executes spec.Steps in order and returns the last step's output.
func (e *Executor) Run(ctx context.Context, spec RunSpec, obs Observer) ([]byte, error) {
	payload := spec.Payload

	for i, step := range spec.Steps {
		if ctx.Err() != nil {
			return nil, interrupted(ctx, step.Name)
		}

		if obs != nil {
			obs.StepStarted(i, step)
		}

		start := e.now()
		out, err := e.runStep(ctx, step, &StepInput{
			TaskID:        spec.TaskID,
			TaskType:      spec.TaskType,
			CorrelationID: spec.CorrelationID,
			StepIndex:     i,
			StepName:      step.Name,
			Agent:         step.Agent,
			Payload:       payload,
		})
		latency := e.now().Sub(start)

		if obs != nil {
			obs.StepFinished(i, step, latency, err)
		}

		if err != nil {
			// A handler that gave up because its context ended was interrupted,
			// not broken.
			if ctx.Err() != nil {
				return nil, interrupted(ctx, step.Name)
			}
			e.logger.Debug("step failed",
				zap.String("task_id", spec.TaskID),
				zap.String("step", step.Name),
				zap.String("agent", step.Agent),
				zap.Error(err))
			return nil, &StepError{Index: i, Step: step.Name, Agent: step.Agent, Err: err}
		}

		payload = out
	}

	// A step that ignored its context may outlast the deadline. Its output
	// does not count as a completed run.
	if n := len(spec.Steps); n > 0 && ctx.Err() != nil {
		return nil, interrupted(ctx, spec.Steps[n-1].Name)
	}

	return payload, nil
}

// runStep calls the handler, converting a panic into an error
func (e *Executor) runStep(ctx context.Context, step Step, in *StepInput) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("step handler panicked",
				zap.String("task_id", in.TaskID),
				zap.String("step", step.Name),
				zap.Any("panic", r))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	if step.Handler == nil {
		return nil, fmt.Errorf("no handler configured")
	}
	return step.Handler.Handle(ctx, in)
}

func interrupted(ctx context.Context, step string) error {
	return fmt.Errorf("%w at step %s: %w", ErrInterrupted, step, context.Cause(ctx))
}
