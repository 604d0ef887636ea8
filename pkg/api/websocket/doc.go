// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/tasks/:id/ws to receive the lifecycle events
// of one task as JSON messages. The server closes the connection with a
// normal closure after the task's completed, failed or cancelled event.
package websocket
