// Package events provides event bus implementations for task lifecycle events.
//
// Implementations:
//   - memory: in-process fan-out with per-subscriber ordered queues (default)
//   - redis: Redis Streams with consumer groups
//
// Tee combines a local bus with remote ones: publishes go to all of them,
// subscriptions stay on the local bus. WebSocket streams subscribe locally
// so that every connection sees every event, which a shared consumer group
// would not provide.
package events
