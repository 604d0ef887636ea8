package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/aescanero/taskcore/pkg/domain"
	"github.com/aescanero/taskcore/pkg/ports"
)

// Tee publishes to a local bus and any number of remote buses.
// Subscribe and Unsubscribe only affect the local bus.
type Tee struct {
	local  ports.EventBus
	remote []ports.EventBus
}

// NewTee creates a Tee around local and remote
func NewTee(local ports.EventBus, remote ...ports.EventBus) *Tee {
	return &Tee{local: local, remote: remote}
}

// Publish delivers event to every bus. Every bus is attempted even when an
// earlier one fails.
func (t *Tee) Publish(ctx context.Context, topic string, event domain.Event) error {
	var errs []error
	for i, bus := range t.all() {
		if err := bus.Publish(ctx, topic, event); err != nil {
			errs = append(errs, fmt.Errorf("bus %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers handler on the local bus
func (t *Tee) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	return t.local.Subscribe(ctx, topic, handler)
}

// Unsubscribe removes the local subscriptions on topic
func (t *Tee) Unsubscribe(ctx context.Context, topic string) error {
	return t.local.Unsubscribe(ctx, topic)
}

// Close closes every bus
func (t *Tee) Close() error {
	var errs []error
	for _, bus := range t.all() {
		if err := bus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tee) all() []ports.EventBus {
	return append([]ports.EventBus{t.local}, t.remote...)
}
