package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type handleState int

const (
	handleActive handleState = iota
	handleCancelled
	handleExpired
	handleFinished
)

func (s handleState) String() string {
	switch s {
	case handleActive:
		return "active"
	case handleCancelled:
		return "cancelled"
	case handleExpired:
		return "expired"
	case handleFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// CancellationHandle lets a running task be terminated early. It leaves the
// active state exactly once: cancelled, expired or finished.
type CancellationHandle struct {
	TaskID   string
	Deadline time.Time
	Timeout  time.Duration

	ctx            context.Context
	cancelCause    context.CancelCauseFunc
	cancelDeadline context.CancelFunc

	// run is the registry run this handle controls
	run uint64

	mu     sync.Mutex
	state  handleState
	reason string

	removeOnce sync.Once
}

// Context is done once the handle is cancelled, its deadline passes or the
// parent context ends.
func (h *CancellationHandle) Context() context.Context {
	return h.ctx
}

// Cancel triggers the handle. It returns true only for the call that moved
// the handle out of the active state.
func (h *CancellationHandle) Cancel(reason string) bool {
	if _, won := h.settle(handleCancelled, reason); !won {
		return false
	}
	h.cancelCause(&CancelledError{TaskID: h.TaskID, Reason: reason})
	return true
}

// settle moves an active handle to next. It returns the resulting state and
// whether this call performed the transition.
func (h *CancellationHandle) settle(next handleState, reason string) (handleState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != handleActive {
		return h.state, false
	}
	h.state = next
	h.reason = reason
	return next, true
}

// State returns the current handle state
func (h *CancellationHandle) State() handleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Reason returns the cancellation reason, if any
func (h *CancellationHandle) Reason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

func (h *CancellationHandle) release() {
	h.cancelDeadline()
	h.cancelCause(context.Canceled)
}

// CancellationRegistry maps task IDs to the handles of running tasks
type CancellationRegistry struct {
	mu      sync.Mutex
	handles map[string]*CancellationHandle
	removed atomic.Int64
}

// NewCancellationRegistry creates an empty registry
func NewCancellationRegistry() *CancellationRegistry {
	return &CancellationRegistry{
		handles: make(map[string]*CancellationHandle),
	}
}

// Register creates the handle for taskID. Its context derives from parent,
// so cancelling parent cancels the task.
func (r *CancellationRegistry) Register(parent context.Context, taskID string, start time.Time, timeout time.Duration) *CancellationHandle {
	deadline := start.Add(timeout)
	causeCtx, cancelCause := context.WithCancelCause(parent)
	ctx, cancelDeadline := context.WithDeadline(causeCtx, deadline)

	h := &CancellationHandle{
		TaskID:         taskID,
		Deadline:       deadline,
		Timeout:        timeout,
		ctx:            ctx,
		cancelCause:    cancelCause,
		cancelDeadline: cancelDeadline,
	}

	r.mu.Lock()
	r.handles[taskID] = h
	r.mu.Unlock()

	return h
}

// Get returns the live handle for taskID
func (r *CancellationRegistry) Get(taskID string) (*CancellationHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[taskID]
	return h, ok
}

// Remove drops h from the registry and releases its context. Only the first
// call for a given handle has any effect; it returns true for that call.
func (r *CancellationRegistry) Remove(h *CancellationHandle) bool {
	removed := false
	h.removeOnce.Do(func() {
		r.mu.Lock()
		if cur, ok := r.handles[h.TaskID]; ok && cur == h {
			delete(r.handles, h.TaskID)
		}
		r.mu.Unlock()

		h.release()
		r.removed.Add(1)
		removed = true
	})
	return removed
}

// Len returns the number of live handles
func (r *CancellationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Removed returns how many handles have been removed since creation
func (r *CancellationRegistry) Removed() int64 {
	return r.removed.Load()
}

// TaskIDs returns the IDs of all live handles
func (r *CancellationRegistry) TaskIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}
