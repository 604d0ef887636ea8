package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/taskcore/internal/application/orchestrator"
	"github.com/aescanero/taskcore/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ExecuteTaskRequest represents a task execution request. Payload may be
// any JSON value; it reaches the pipeline as raw bytes.
type ExecuteTaskRequest struct {
	TaskID        string          `json:"task_id" binding:"required"`
	TaskType      string          `json:"task_type" binding:"required"`
	Payload       json.RawMessage `json:"payload"`
	Priority      int             `json:"priority"`
	TimeoutMs     int64           `json:"timeout_ms"`
	CorrelationID string          `json:"correlation_id"`
	Async         bool            `json:"async"`
}

func (r ExecuteTaskRequest) toDomain() domain.ExecuteRequest {
	return domain.ExecuteRequest{
		TaskID:        r.TaskID,
		TaskType:      r.TaskType,
		Payload:       []byte(r.Payload),
		Priority:      r.Priority,
		TimeoutMs:     r.TimeoutMs,
		CorrelationID: r.CorrelationID,
	}
}

// SubmitBatchRequest represents a batch submission request
type SubmitBatchRequest struct {
	BatchID     string               `json:"batch_id" binding:"required"`
	Tasks       []ExecuteTaskRequest `json:"tasks"`
	Parallel    bool                 `json:"parallel"`
	StopOnError bool                 `json:"stop_on_error"`
}

// CancelTaskRequest represents a cancellation request
type CancelTaskRequest struct {
	Reason string `json:"reason"`
}

// TaskResponse is the wire form of an execution result
type TaskResponse struct {
	TaskID        string          `json:"task_id"`
	Status        string          `json:"status"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
	Error         string          `json:"error,omitempty"`
}

// TaskStatusResponse is the wire form of a task record
type TaskStatusResponse struct {
	TaskID          string          `json:"task_id"`
	TaskType        string          `json:"task_type,omitempty"`
	Status          string          `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	CurrentStep     string          `json:"current_step,omitempty"`
	StartTime       *time.Time      `json:"start_time,omitempty"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	Priority        int             `json:"priority,omitempty"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	BatchID         string          `json:"batch_id,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth reports liveness
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleReady reports readiness from the dependency checks
func (s *Server) handleReady(c *gin.Context) {
	report := s.orchestrator.CheckDependencies(c.Request.Context())

	status, code := "ready", http.StatusOK
	if !report.Healthy {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": report.Dependencies,
		"timestamp":    report.CheckedAt,
	})
}

// handleExecute handles task execution
func (s *Server) handleExecute(c *gin.Context) {
	var req ExecuteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = c.GetHeader(headerCorrelationID)
	}

	if req.Async {
		s.executeAsync(c, req)
		return
	}

	res, err := s.orchestrator.Execute(c.Request.Context(), req.toDomain())
	if err != nil {
		s.writeError(c, err, res)
		return
	}

	c.JSON(http.StatusOK, toTaskResponse(res))
}

// executeAsync starts the task in the background and answers 202. The task
// is detached from the request so it outlives the connection. Requests that
// Execute would reject are answered synchronously.
func (s *Server) executeAsync(c *gin.Context, req ExecuteTaskRequest) {
	if err := s.orchestrator.Validate(req.toDomain()); err != nil {
		s.writeError(c, err, nil)
		return
	}
	if rec := s.orchestrator.GetStatus(req.TaskID); rec.Status == domain.TaskStatusRunning {
		s.writeError(c, &orchestrator.DuplicateTaskError{TaskID: req.TaskID}, nil)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	s.async.Add(1)
	go func() {
		defer s.async.Done()
		if _, err := s.orchestrator.Execute(ctx, req.toDomain()); err != nil {
			s.logger.Debug("async task finished with error",
				zap.String("task_id", req.TaskID),
				zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": req.TaskID,
		"status":  domain.TaskStatusRunning,
	})
}

// handleGetStatus handles task status queries
func (s *Server) handleGetStatus(c *gin.Context) {
	rec := s.orchestrator.GetStatus(c.Param("id"))
	if rec.Status == domain.TaskStatusNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"task_id": rec.TaskID,
			"status":  rec.Status,
			"error": ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Task not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, toTaskStatusResponse(rec))
}

// handleCancel handles task cancellation
func (s *Server) handleCancel(c *gin.Context) {
	taskID := c.Param("id")

	var req CancelTaskRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
	}

	cancelled := s.orchestrator.Cancel(taskID, req.Reason)
	c.JSON(http.StatusOK, gin.H{
		"task_id":   taskID,
		"cancelled": cancelled,
	})
}

// handleSubmitBatch handles batch submission
func (s *Server) handleSubmitBatch(c *gin.Context) {
	var req SubmitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	batch := domain.BatchRequest{
		BatchID:     req.BatchID,
		Parallel:    req.Parallel,
		StopOnError: req.StopOnError,
		Tasks:       make([]domain.ExecuteRequest, 0, len(req.Tasks)),
	}
	for _, t := range req.Tasks {
		batch.Tasks = append(batch.Tasks, t.toDomain())
	}

	res, err := s.orchestrator.SubmitBatch(c.Request.Context(), batch)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, res)
}

// handleGetMetrics returns the aggregated execution metrics
func (s *Server) handleGetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.GetMetrics())
}

// handleDependencies returns the dependency health report
func (s *Server) handleDependencies(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.CheckDependencies(c.Request.Context()))
}

// errorStatus maps an orchestrator error to an HTTP status and error code
func errorStatus(err error) (int, string) {
	var (
		dup       *orchestrator.DuplicateTaskError
		stepErr   *orchestrator.StepExecutionError
		timeout   *orchestrator.TimeoutError
		cancelled *orchestrator.CancelledError
	)

	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.As(err, &dup):
		return http.StatusConflict, "DUPLICATE_TASK"
	case errors.As(err, &stepErr):
		return http.StatusUnprocessableEntity, "STEP_FAILED"
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.As(err, &cancelled):
		return http.StatusConflict, "CANCELLED"
	case errors.Is(err, orchestrator.ErrOverloaded):
		return http.StatusServiceUnavailable, "OVERLOADED"
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (s *Server) writeError(c *gin.Context, err error, res *domain.ExecutionResult) {
	code, errCode := errorStatus(err)
	if code >= http.StatusInternalServerError && code != http.StatusGatewayTimeout {
		s.logger.Error("request failed", zap.String("code", errCode), zap.Error(err))
	}
	_ = c.Error(err)

	detail := ErrorDetail{Code: errCode, Message: err.Error()}
	if res != nil {
		detail.Details = toTaskResponse(res)
	}
	c.JSON(code, ErrorResponse{Error: detail})
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		},
	})
}

func toTaskResponse(res *domain.ExecutionResult) TaskResponse {
	return TaskResponse{
		TaskID:        res.TaskID,
		Status:        string(res.Status),
		CorrelationID: res.CorrelationID,
		Output:        rawJSON(res.Output),
		DurationMs:    res.Duration.Milliseconds(),
		Error:         res.Error,
	}
}

func toTaskStatusResponse(rec domain.TaskRecord) TaskStatusResponse {
	resp := TaskStatusResponse{
		TaskID:          rec.TaskID,
		TaskType:        rec.TaskType,
		Status:          string(rec.Status),
		ProgressPercent: rec.ProgressPercent,
		CurrentStep:     rec.CurrentStep,
		EndTime:         rec.EndTime,
		Priority:        rec.Priority,
		CorrelationID:   rec.CorrelationID,
		BatchID:         rec.BatchID,
		Result:          rawJSON(rec.Result),
		Error:           rec.Error,
	}
	if !rec.StartTime.IsZero() {
		start := rec.StartTime
		resp.StartTime = &start
	}
	return resp
}

// rawJSON passes valid JSON through and quotes anything else as a string
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
