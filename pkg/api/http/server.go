package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/aescanero/taskcore/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Orchestrator is the task core as seen by the REST facade
type Orchestrator interface {
	Execute(ctx context.Context, req domain.ExecuteRequest) (*domain.ExecutionResult, error)
	Validate(req domain.ExecuteRequest) error
	GetStatus(taskID string) domain.TaskRecord
	Cancel(taskID, reason string) bool
	SubmitBatch(ctx context.Context, req domain.BatchRequest) (*domain.BatchResult, error)
	CheckDependencies(ctx context.Context) domain.HealthReport
	GetMetrics() domain.MetricsSnapshot
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator Orchestrator
	logger       *zap.Logger

	// background executions started with async=true
	async sync.WaitGroup
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator Orchestrator
	Logger       *zap.Logger
	// MetricsHandler serves /metrics; defaults to promhttp.Handler().
	MetricsHandler http.Handler
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		logger:       cfg.Logger,
	}

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	s.setupRoutes(metricsHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metricsHandler http.Handler) {
	// Liveness and readiness
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)

	// Prometheus
	s.router.GET("/metrics", gin.WrapH(metricsHandler))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/tasks", s.handleExecute)
		v1.GET("/tasks/:id", s.handleGetStatus)
		v1.POST("/tasks/:id/cancel", s.handleCancel)
		v1.POST("/batches", s.handleSubmitBatch)
		v1.GET("/metrics/agents", s.handleGetMetrics)
		v1.GET("/dependencies", s.handleDependencies)
	}
}

// SetupWebSocket adds the task event stream handler to the server
func (s *Server) SetupWebSocket(handler interface{}) {
	if wsHandler, ok := handler.(interface {
		HandleTaskStream(*gin.Context)
	}); ok {
		s.router.GET("/api/v1/tasks/:id/ws", wsHandler.HandleTaskStream)
	}
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown stops accepting requests and waits for in-flight requests and
// async executions to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.async.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("async executions still running: %w", ctx.Err())
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
