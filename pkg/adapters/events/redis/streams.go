package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/taskcore/pkg/domain"
	"github.com/aescanero/taskcore/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamPrefix = "taskcore:events:"
	readCount    = 10
	readBlock    = time.Second
	retryBackoff = time.Second
)

// Options tunes a StreamsEventBus
type Options struct {
	ConsumerGroup string
	ConsumerName  string
	// MaxLen caps each stream approximately; zero keeps every entry.
	MaxLen int64
}

// StreamsEventBus implements EventBus using Redis Streams
type StreamsEventBus struct {
	client redis.UniversalClient
	logger *zap.Logger
	opts   Options

	mu      sync.Mutex
	readers map[string][]context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamsEventBus creates a new Redis Streams event bus
func NewStreamsEventBus(client redis.UniversalClient, opts Options, logger *zap.Logger) (*StreamsEventBus, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if opts.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if opts.ConsumerName == "" {
		return nil, fmt.Errorf("consumer name is required")
	}

	return &StreamsEventBus{
		client:  client,
		logger:  logger,
		opts:    opts,
		readers: make(map[string][]context.CancelFunc),
	}, nil
}

// Publish publishes an event to the appropriate stream topic
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	streamKey := StreamKey(topic)

	values, err := encodeEvent(event)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: values,
	}
	if e.opts.MaxLen > 0 {
		args.MaxLen = e.opts.MaxLen
		args.Approx = true
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("task_id", event.TaskID),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe reads topic through the consumer group until ctx is done or
// the topic is unsubscribed.
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := StreamKey(topic)

	err := e.client.XGroupCreateMkStream(ctx, streamKey, e.opts.ConsumerGroup, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.readers[topic] = append(e.readers[topic], cancel)
	e.mu.Unlock()

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("consumer_group", e.opts.ConsumerGroup),
		zap.String("consumer", e.opts.ConsumerName))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.readStream(readCtx, streamKey, handler)
	}()

	return nil
}

func (e *StreamsEventBus) readStream(ctx context.Context, streamKey string, handler ports.EventHandler) {
	for ctx.Err() == nil {
		streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    e.opts.ConsumerGroup,
			Consumer: e.opts.ConsumerName,
			Streams:  []string{streamKey, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				e.processMessage(ctx, streamKey, message, handler)
			}
		}
	}
}

func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) {
	event, err := decodeEvent(message)
	if err != nil {
		e.logger.Error("dropping malformed message",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		e.ack(ctx, streamKey, message.ID)
		return
	}

	if err := handler(ctx, event); err != nil {
		// left pending for redelivery
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	e.ack(ctx, streamKey, message.ID)
}

func (e *StreamsEventBus) ack(ctx context.Context, streamKey, id string) {
	if err := e.client.XAck(ctx, streamKey, e.opts.ConsumerGroup, id).Err(); err != nil {
		e.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", id),
			zap.Error(err))
	}
}

// Unsubscribe stops every reader on topic. The consumer group is kept so a
// later subscription resumes from the pending entries.
func (e *StreamsEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	cancels := e.readers[topic]
	delete(e.readers, topic)
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

// Close stops all readers and waits for them to exit. The Redis client is
// owned by the caller.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	readers := e.readers
	e.readers = make(map[string][]context.CancelFunc)
	e.mu.Unlock()

	for _, cancels := range readers {
		for _, cancel := range cancels {
			cancel()
		}
	}
	e.wg.Wait()
	return nil
}

// StreamKey returns the Redis stream key for a topic
func StreamKey(topic string) string {
	return streamPrefix + topic
}

func encodeEvent(event domain.Event) (map[string]interface{}, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return map[string]interface{}{
		"type":    string(event.Type),
		"task_id": event.TaskID,
		"data":    string(data),
	}, nil
}

func decodeEvent(message redis.XMessage) (domain.Event, error) {
	var event domain.Event

	data, ok := message.Values["data"].(string)
	if !ok {
		return event, fmt.Errorf("message has no data field")
	}
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, nil
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}
