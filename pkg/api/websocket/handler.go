package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/aescanero/taskcore/pkg/domain"
	"github.com/aescanero/taskcore/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 5 * time.Second
	streamBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
	}
}

// HandleTaskStream streams the lifecycle events of one task to the client.
// The connection is closed after the task's terminal event.
func (h *Handler) HandleTaskStream(c *gin.Context) {
	taskID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("task_id", taskID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan domain.Event, streamBuffer)
	err = h.eventBus.Subscribe(ctx, domain.TopicTaskEvents, func(_ context.Context, event domain.Event) error {
		if event.TaskID != taskID {
			return nil
		}
		select {
		case events <- event:
		case <-ctx.Done():
		default:
			h.logger.Warn("event stream full, dropping event",
				zap.String("task_id", taskID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	})
	if err != nil {
		h.logger.Error("failed to subscribe to events", zap.String("task_id", taskID), zap.Error(err))
		h.closeWith(conn, websocket.CloseInternalServerErr, "subscription failed")
		return
	}

	// The read pump notices client disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("failed to write event", zap.String("task_id", taskID), zap.Error(err))
				return
			}
			if isTerminal(event.Type) {
				h.closeWith(conn, websocket.CloseNormalClosure, string(event.Type))
				return
			}
		}
	}
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("failed to send close frame", zap.Error(err))
	}
}

func isTerminal(t domain.EventType) bool {
	switch t {
	case domain.EventTypeTaskCompleted, domain.EventTypeTaskFailed, domain.EventTypeTaskCancelled:
		return true
	default:
		return false
	}
}
