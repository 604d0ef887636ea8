package workers

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Budget bounds concurrent executions
type Budget struct {
	sem      *semaphore.Weighted
	capacity int64
	inUse    atomic.Int64
	waiting  atomic.Int64
}

// BudgetStatus is a point-in-time view of the budget
type BudgetStatus struct {
	Capacity  int64 `json:"capacity"`
	InUse     int64 `json:"in_use"`
	Waiting   int64 `json:"waiting"`
	Saturated bool  `json:"saturated"`
}

// NewBudget creates a budget of capacity slots. Capacity below one is raised to one.
func NewBudget(capacity int64) *Budget {
	if capacity < 1 {
		capacity = 1
	}
	return &Budget{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
	}
}

// Acquire blocks until a slot is available or ctx is done
func (b *Budget) Acquire(ctx context.Context) error {
	b.waiting.Add(1)
	err := b.sem.Acquire(ctx, 1)
	b.waiting.Add(-1)
	if err != nil {
		return err
	}
	b.inUse.Add(1)
	return nil
}

// TryAcquire takes a slot without blocking
func (b *Budget) TryAcquire() bool {
	if !b.sem.TryAcquire(1) {
		return false
	}
	b.inUse.Add(1)
	return true
}

// Release returns a slot taken by Acquire or TryAcquire
func (b *Budget) Release() {
	b.inUse.Add(-1)
	b.sem.Release(1)
}

// Status returns the current budget usage
func (b *Budget) Status() BudgetStatus {
	inUse := b.inUse.Load()
	return BudgetStatus{
		Capacity:  b.capacity,
		InUse:     inUse,
		Waiting:   b.waiting.Load(),
		Saturated: inUse >= b.capacity,
	}
}
