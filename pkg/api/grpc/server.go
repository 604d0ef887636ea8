package grpc

import (
	"context"
	"fmt"
	"net"

	"github.com/aescanero/taskcore/pkg/domain"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall
// ("") status.
const ServiceName = "taskcore.Orchestrator"

// Server represents the gRPC API server. It serves the standard
// grpc.health.v1 service, whose status follows the dependency checks.
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	logger   *zap.Logger
}

// Config holds gRPC server configuration
type Config struct {
	Port   int
	Logger *zap.Logger

	// Listener overrides Port when set.
	Listener net.Listener
}

// NewServer creates a new gRPC server. Both the overall and the
// orchestrator service start as SERVING.
func NewServer(cfg *Config) (*Server, error) {
	listener := cfg.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
		if err != nil {
			return nil, fmt.Errorf("failed to create listener: %w", err)
		}
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	s := &Server{
		server:   grpcServer,
		listener: listener,
		health:   healthServer,
		logger:   cfg.Logger,
	}
	s.setServing(true)

	return s, nil
}

// UpdateHealth sets the serving status from a dependency report
func (s *Server) UpdateHealth(report domain.HealthReport) {
	if !report.Healthy {
		for _, dep := range report.Unhealthy() {
			s.logger.Warn("reporting NOT_SERVING", zap.Error(dep))
		}
	}
	s.setServing(report.Healthy)
}

func (s *Server) setServing(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Addr returns the listening address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Shutdown marks the server NOT_SERVING and stops it gracefully. If ctx
// ends first the server is stopped hard.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("gRPC graceful stop interrupted: %w", ctx.Err())
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
