package main

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/taskcore/internal/application/metrics"
	"github.com/aescanero/taskcore/internal/application/orchestrator"
	"github.com/aescanero/taskcore/internal/application/pipeline"
	"github.com/aescanero/taskcore/internal/application/workers"
	"github.com/aescanero/taskcore/internal/config"
	"github.com/aescanero/taskcore/pkg/adapters/events"
	"github.com/aescanero/taskcore/pkg/adapters/events/memory"
	"github.com/aescanero/taskcore/pkg/adapters/events/redis"
	"github.com/aescanero/taskcore/pkg/adapters/health"
	"github.com/aescanero/taskcore/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/taskcore/pkg/api/grpc"
	"github.com/aescanero/taskcore/pkg/api/http"
	"github.com/aescanero/taskcore/pkg/api/websocket"
	"github.com/aescanero/taskcore/pkg/ports"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	googlegrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting taskcore",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Redis is optional
	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		pingCtx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil && cfg.Events.Backend == config.EventsBackendRedis {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		if err != nil {
			logger.Warn("Redis unreachable, continuing without it", zap.Error(err))
		} else {
			logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
		}
	}

	// Event buses
	localBus := memory.NewInMemoryEventBus(logger, cfg.Events.BufferSize)
	eventBus, err := newEventBus(cfg, localBus, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to create event bus", zap.Error(err))
	}

	// Pipelines
	catalog, err := loadCatalog(cfg.Orchestrator.PipelinesFile)
	if err != nil {
		logger.Fatal("failed to load pipeline catalog", zap.Error(err))
	}
	logger.Info("pipeline catalog loaded", zap.Strings("task_types", catalog.TaskTypes()))

	// Dependency probes
	probes, closeProbes, err := newProbes(cfg, redisClient)
	if err != nil {
		logger.Fatal("failed to configure dependency probes", zap.Error(err))
	}
	checker := health.NewChecker(logger, cfg.Dependencies.ProbeTimeout, probes...)

	metricsCollector := prometheus.NewCollector()
	budget := workers.NewBudget(cfg.Orchestrator.MaxInFlight)

	orchestratorMgr, err := orchestrator.NewManager(&orchestrator.Config{
		Catalog:        catalog,
		Metrics:        metrics.NewAggregator(),
		Logger:         logger,
		Executor:       pipeline.NewExecutor(logger),
		Budget:         budget,
		EventBus:       eventBus,
		Collector:      metricsCollector,
		Health:         checker,
		DefaultTimeout: cfg.Orchestrator.DefaultTimeout,
	})
	if err != nil {
		logger.Fatal("failed to create orchestrator", zap.Error(err))
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Logger:       logger,
	})

	// WebSocket streams read the local bus
	wsHandler := websocket.NewHandler(localBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Background jobs
	monitor := workers.NewMonitor(logger)
	var lastDropped int64
	jobs := []workers.Job{
		{
			Name:     "sweep-expired",
			Interval: cfg.Orchestrator.SweepInterval,
			Run: func(ctx context.Context) {
				if n := orchestratorMgr.SweepExpired(cfg.Orchestrator.TaskRetention); n > 0 {
					logger.Debug("swept expired task records", zap.Int("count", n))
				}
			},
		},
		{
			Name:     "dependency-health",
			Interval: cfg.Dependencies.CheckInterval,
			Run: func(ctx context.Context) {
				grpcServer.UpdateHealth(orchestratorMgr.CheckDependencies(ctx))
			},
		},
		{
			Name:     "runtime-pressure",
			Interval: cfg.Dependencies.CheckInterval,
			Run: func(ctx context.Context) {
				if st := orchestratorMgr.BudgetStatus(); st.Saturated {
					logger.Warn("worker budget saturated",
						zap.Int64("capacity", st.Capacity),
						zap.Int64("waiting", st.Waiting))
				}
				if dropped := localBus.Dropped(); dropped > lastDropped {
					logger.Warn("event subscribers falling behind",
						zap.Int64("dropped_total", dropped),
						zap.Int64("dropped_since_last_check", dropped-lastDropped))
					lastDropped = dropped
				}
			},
		},
	}
	for _, job := range jobs {
		if err := monitor.Add(job); err != nil {
			logger.Fatal("failed to schedule job", zap.String("job", job.Name), zap.Error(err))
		}
	}
	monitor.Start()

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("taskcore started",
		zap.String("http_addr", cfg.GetHTTPAddr()),
		zap.String("grpc_addr", cfg.GetGRPCAddr()),
		zap.String("events_backend", cfg.Events.Backend),
		zap.Int64("max_in_flight", cfg.Orchestrator.MaxInFlight))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := monitor.Stop(shutdownCtx); err != nil {
		logger.Error("monitor shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	closeProbes()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("taskcore shut down complete")
}

// newEventBus returns the bus the orchestrator publishes to. With the redis
// backend events go to Redis Streams as well as to the local bus.
func newEventBus(cfg *config.Config, local *memory.InMemoryEventBus, client *goredis.Client, logger *zap.Logger) (ports.EventBus, error) {
	if cfg.Events.Backend != config.EventsBackendRedis {
		return local, nil
	}

	streams, err := redis.NewStreamsEventBus(client, redis.Options{
		ConsumerGroup: cfg.Events.ConsumerGroup,
		ConsumerName:  fmt.Sprintf("taskcore-%d", os.Getpid()),
		MaxLen:        cfg.Events.StreamMaxLen,
	}, logger)
	if err != nil {
		return nil, err
	}
	return events.NewTee(local, streams), nil
}

// loadCatalog reads the pipeline file, or falls back to the built-in
// five-step pipeline.
func loadCatalog(path string) (*pipeline.Catalog, error) {
	reg := pipeline.NewRegistry()
	if path == "" {
		return pipeline.DefaultCatalog(reg)
	}
	cat, err := pipeline.LoadCatalog(path, reg)
	if err != nil {
		return nil, fmt.Errorf("%w (known handler kinds: %v)", err, reg.Kinds())
	}
	return cat, nil
}

// newProbes builds one probe per configured dependency. The returned func
// releases probe connections.
func newProbes(cfg *config.Config, redisClient *goredis.Client) ([]health.Probe, func(), error) {
	var (
		probes  []health.Probe
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if redisClient != nil {
		probes = append(probes, health.RedisProbe("cache", redisClient))
	}

	if url := cfg.Dependencies.DatabaseURL; url != "" {
		p, err := health.PostgresProbe("database", url)
		if err != nil {
			return nil, closeAll, err
		}
		probes = append(probes, p)
	}

	if addr := cfg.Dependencies.EngineGRPCAddr; addr != "" {
		conn, err := googlegrpc.NewClient(addr, googlegrpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, closeAll, fmt.Errorf("failed to create engine client: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		probes = append(probes, health.GRPCProbe("reasoning-engine", conn, ""))
	}

	if url := cfg.Dependencies.VectorStoreURL; url != "" {
		client := &nethttp.Client{Timeout: cfg.Dependencies.ProbeTimeout}
		probes = append(probes, health.HTTPProbe("vector-store", url, client))
	}

	return probes, closeAll, nil
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger.With(zap.String("service", "taskcore"))
}
