package ports

import (
	"context"

	"github.com/aescanero/taskcore/pkg/domain"
)

// EventHandler processes a single event
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes lifecycle events and delivers them to subscribers
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error

	// Subscribe registers handler for topic until ctx is done.
	Subscribe(ctx context.Context, topic string, handler EventHandler) error

	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}
