package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Event bus backends
const (
	EventsBackendMemory = "memory"
	EventsBackendRedis  = "redis"
)

// Config holds all configuration for taskcore
type Config struct {
	// Server configuration
	HTTPPort int    `env:"TASKCORE_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"TASKCORE_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// Event bus configuration
	Events EventsConfig

	// Orchestrator configuration
	Orchestrator OrchestratorConfig

	// Dependency health checks
	Dependencies DependencyConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration. An empty Addr disables
// Redis entirely.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// EventsConfig selects and tunes the lifecycle event bus
type EventsConfig struct {
	Backend       string `env:"EVENTS_BACKEND" envDefault:"memory"`
	BufferSize    int    `env:"EVENTS_BUFFER_SIZE" envDefault:"256"`
	ConsumerGroup string `env:"EVENTS_CONSUMER_GROUP" envDefault:"taskcore"`
	StreamMaxLen  int64  `env:"EVENTS_STREAM_MAXLEN" envDefault:"10000"`
}

// OrchestratorConfig holds task execution settings
type OrchestratorConfig struct {
	MaxInFlight    int64         `env:"MAX_IN_FLIGHT" envDefault:"64"`
	DefaultTimeout time.Duration `env:"DEFAULT_TIMEOUT" envDefault:"30s"`
	TaskRetention  time.Duration `env:"TASK_RETENTION" envDefault:"1h"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	PipelinesFile  string        `env:"PIPELINES_FILE"`
}

// DependencyConfig lists the external services probed by CheckDependencies.
// Empty addresses are not probed.
type DependencyConfig struct {
	DatabaseURL    string        `env:"DATABASE_URL"`
	VectorStoreURL string        `env:"VECTOR_STORE_URL"`
	EngineGRPCAddr string        `env:"ENGINE_GRPC_ADDR"`
	CheckInterval  time.Duration `env:"HEALTH_CHECK_INTERVAL" envDefault:"30s"`
	ProbeTimeout   time.Duration `env:"HEALTH_PROBE_TIMEOUT" envDefault:"2s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("HTTP and gRPC ports must differ: %d", c.HTTPPort)
	}

	// Validate event bus
	switch c.Events.Backend {
	case EventsBackendMemory:
	case EventsBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis events backend")
		}
	default:
		return fmt.Errorf("unsupported events backend: %s (must be memory or redis)", c.Events.Backend)
	}

	// Validate orchestrator config
	if c.Orchestrator.MaxInFlight < 1 {
		return fmt.Errorf("max in-flight tasks must be at least 1")
	}
	if c.Orchestrator.DefaultTimeout <= 0 {
		return fmt.Errorf("default timeout must be positive")
	}
	if c.Orchestrator.TaskRetention <= 0 {
		return fmt.Errorf("task retention must be positive")
	}
	if c.Orchestrator.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	// Validate health checks
	if c.Dependencies.CheckInterval <= 0 {
		return fmt.Errorf("health check interval must be positive")
	}
	if c.Dependencies.ProbeTimeout <= 0 {
		return fmt.Errorf("health probe timeout must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
