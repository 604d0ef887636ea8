package health

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RedisProbe pings a Redis server
func RedisProbe(name string, client redis.UniversalClient) Probe {
	return NewProbe(name, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	})
}

// PostgresProbe opens a short-lived connection and pings the database.
// The connection string is parsed up front so misconfiguration fails at
// startup rather than on every check.
func PostgresProbe(name, dsn string) (Probe, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}

	return NewProbe(name, func(ctx context.Context) error {
		conn, err := pgx.ConnectConfig(ctx, cfg.Copy())
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		defer conn.Close(context.Background())

		if err := conn.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		return nil
	}), nil
}

// GRPCProbe calls the standard gRPC health service on conn. An empty
// service checks the server as a whole.
func GRPCProbe(name string, conn grpc.ClientConnInterface, service string) Probe {
	client := healthpb.NewHealthClient(conn)
	return NewProbe(name, func(ctx context.Context) error {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return fmt.Errorf("grpc health check: %w", err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("grpc service status %s", resp.GetStatus())
		}
		return nil
	})
}

// HTTPProbe issues a GET to url and expects a 2xx response
func HTTPProbe(name, url string, client *http.Client) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return NewProbe(name, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("http get: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	})
}
