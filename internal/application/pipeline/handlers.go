package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// SimulatedHandler stands in for real agent work by waiting a random
// duration in [MinDelay, MaxDelay]. It returns early with ctx.Err() when the
// context ends and passes its input payload through unchanged.
type SimulatedHandler struct {
	MinDelay time.Duration
	MaxDelay time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedHandler creates a simulated handler. A nil src uses the
// process-wide random source; pass a seeded source for reproducible delays.
func NewSimulatedHandler(minDelay, maxDelay time.Duration, src rand.Source) *SimulatedHandler {
	h := &SimulatedHandler{MinDelay: minDelay, MaxDelay: maxDelay}
	if src != nil {
		h.rnd = rand.New(src)
	}
	return h
}

// Delay returns the next simulated duration
func (h *SimulatedHandler) Delay() time.Duration {
	span := int64(h.MaxDelay - h.MinDelay)
	if span <= 0 {
		return h.MinDelay
	}
	if h.rnd == nil {
		return h.MinDelay + time.Duration(rand.Int64N(span+1))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.MinDelay + time.Duration(h.rnd.Int64N(span+1))
}

// Handle implements Handler
func (h *SimulatedHandler) Handle(ctx context.Context, in *StepInput) ([]byte, error) {
	d := h.Delay()
	if d <= 0 {
		return in.Payload, ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return in.Payload, nil
	}
}

// EchoHandler returns its input payload
func EchoHandler() Handler {
	return HandlerFunc(func(_ context.Context, in *StepInput) ([]byte, error) {
		return in.Payload, nil
	})
}

// FailHandler always fails with message
func FailHandler(message string) Handler {
	if message == "" {
		message = "step failed"
	}
	err := errors.New(message)
	return HandlerFunc(func(_ context.Context, _ *StepInput) ([]byte, error) {
		return nil, err
	})
}
