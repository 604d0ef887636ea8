package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aescanero/taskcore/pkg/domain"
	"github.com/aescanero/taskcore/pkg/ports"
	"go.uber.org/zap"
)

// DefaultBufferSize is the per-subscription queue length
const DefaultBufferSize = 256

// ErrClosed is returned by operations on a closed bus
var ErrClosed = errors.New("event bus closed")

// InMemoryEventBus implements EventBus with in-process subscriptions.
//
// Each subscription has its own queue and delivery goroutine, so events on a
// topic reach a given subscriber in publish order. Publish never blocks: when
// a subscriber's queue is full the event is dropped for that subscriber.
type InMemoryEventBus struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[string]map[uint64]*subscription
	closed      bool

	nextID  atomic.Uint64
	dropped atomic.Int64
}

type subscription struct {
	id      uint64
	topic   string
	ctx     context.Context
	handler ports.EventHandler
	queue   chan domain.Event
	done    chan struct{}
	stop    sync.Once
}

// NewInMemoryEventBus creates a new in-memory event bus. A non-positive
// bufferSize uses DefaultBufferSize.
func NewInMemoryEventBus(logger *zap.Logger, bufferSize int) *InMemoryEventBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &InMemoryEventBus{
		logger:      logger,
		bufferSize:  bufferSize,
		subscribers: make(map[string]map[uint64]*subscription),
	}
}

// Publish queues event for every subscriber of topic
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrClosed
	}

	for _, sub := range e.subscribers[topic] {
		select {
		case sub.queue <- event:
		default:
			e.dropped.Add(1)
			e.logger.Warn("subscriber queue full, dropping event",
				zap.String("topic", topic),
				zap.Uint64("subscription", sub.id),
				zap.String("event_type", string(event.Type)))
		}
	}

	return nil
}

// Subscribe registers handler for topic until ctx is done. The handler
// receives ctx.
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	sub := &subscription{
		id:      e.nextID.Add(1),
		topic:   topic,
		ctx:     ctx,
		handler: handler,
		queue:   make(chan domain.Event, e.bufferSize),
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[uint64]*subscription)
	}
	e.subscribers[topic][sub.id] = sub
	e.mu.Unlock()

	go e.deliver(sub)

	return nil
}

// Unsubscribe removes all subscriptions from a topic
func (e *InMemoryEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	subs := e.subscribers[topic]
	delete(e.subscribers, topic)
	e.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	return nil
}

// Close stops every subscription. Further publishes fail with ErrClosed.
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	subs := e.subscribers
	e.subscribers = make(map[string]map[uint64]*subscription)
	e.closed = true
	e.mu.Unlock()

	for _, topicSubs := range subs {
		for _, sub := range topicSubs {
			sub.close()
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions on topic
func (e *InMemoryEventBus) Subscribers(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

// Dropped returns how many deliveries were dropped on full queues
func (e *InMemoryEventBus) Dropped() int64 {
	return e.dropped.Load()
}

func (e *InMemoryEventBus) deliver(sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.ctx.Done():
			e.remove(sub)
			return
		case event := <-sub.queue:
			if err := sub.handler(sub.ctx, event); err != nil {
				e.logger.Debug("event handler error",
					zap.String("topic", sub.topic),
					zap.Uint64("subscription", sub.id),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}
}

func (e *InMemoryEventBus) remove(sub *subscription) {
	e.mu.Lock()
	if subs, ok := e.subscribers[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(e.subscribers, sub.topic)
		}
	}
	e.mu.Unlock()
	sub.close()
}

func (s *subscription) close() {
	s.stop.Do(func() { close(s.done) })
}
