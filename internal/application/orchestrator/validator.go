package orchestrator

import (
	"fmt"
	"time"

	"github.com/aescanero/taskcore/pkg/domain"
	"github.com/google/uuid"
)

// Validator checks requests and fills in defaults
type Validator struct {
	defaultTimeout time.Duration
	newID          func() string
}

// NewValidator creates a new request validator. A non-positive
// defaultTimeout falls back to domain.DefaultTimeoutMs.
func NewValidator(defaultTimeout time.Duration) *Validator {
	if defaultTimeout <= 0 {
		defaultTimeout = domain.DefaultTimeoutMs * time.Millisecond
	}
	return &Validator{
		defaultTimeout: defaultTimeout,
		newID:          uuid.NewString,
	}
}

// Normalize validates req and returns it with defaults applied, along with
// the effective timeout.
func (v *Validator) Normalize(req domain.ExecuteRequest) (domain.ExecuteRequest, time.Duration, error) {
	if req.TaskID == "" {
		return req, 0, fmt.Errorf("%w: task_id is required", ErrInvalidRequest)
	}
	if req.TaskType == "" {
		return req, 0, fmt.Errorf("%w: task_type is required", ErrInvalidRequest)
	}

	if req.Priority == 0 {
		req.Priority = domain.DefaultPriority
	}
	if req.Priority < domain.MinPriority || req.Priority > domain.MaxPriority {
		return req, 0, fmt.Errorf("%w: priority %d out of range %d-%d",
			ErrInvalidRequest, req.Priority, domain.MinPriority, domain.MaxPriority)
	}

	timeout := v.defaultTimeout
	switch {
	case req.TimeoutMs < 0:
		return req, 0, fmt.Errorf("%w: timeout_ms must be positive", ErrInvalidRequest)
	case req.TimeoutMs == 0:
		req.TimeoutMs = timeout.Milliseconds()
	default:
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	if req.CorrelationID == "" {
		req.CorrelationID = v.newID()
	}

	return req, timeout, nil
}

// ValidateBatch checks the batch envelope. Member requests are validated
// individually when they execute.
func (v *Validator) ValidateBatch(req domain.BatchRequest) error {
	if req.BatchID == "" {
		return fmt.Errorf("%w: batch_id is required", ErrInvalidRequest)
	}
	return nil
}
