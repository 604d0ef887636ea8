package health

import (
	"context"
	"fmt"
	"time"

	"github.com/aescanero/taskcore/pkg/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultProbeTimeout bounds a single probe when none is configured
const DefaultProbeTimeout = 2 * time.Second

// Probe checks one external dependency
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

type probeFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (p probeFunc) Name() string                    { return p.name }
func (p probeFunc) Check(ctx context.Context) error { return p.fn(ctx) }

// NewProbe adapts fn to a Probe named name
func NewProbe(name string, fn func(ctx context.Context) error) Probe {
	return probeFunc{name: name, fn: fn}
}

// Checker runs every probe concurrently, each under its own timeout.
// It implements ports.HealthChecker.
type Checker struct {
	probes  []Probe
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewChecker creates a checker for probes
func NewChecker(logger *zap.Logger, timeout time.Duration, probes ...Probe) *Checker {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Checker{
		probes:  probes,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Check returns one status per probe in registration order. A probe that
// panics or outlives its timeout is reported unhealthy.
func (c *Checker) Check(ctx context.Context) []domain.DependencyStatus {
	results := make([]domain.DependencyStatus, len(c.probes))

	var g errgroup.Group
	for i, p := range c.probes {
		g.Go(func() error {
			results[i] = c.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Checker) run(ctx context.Context, p Probe) (status domain.DependencyStatus) {
	start := c.now()
	status.Name = p.Name()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	defer func() {
		status.CheckedAt = c.now()
		status.LatencyMs = float64(status.CheckedAt.Sub(start)) / float64(time.Millisecond)
	}()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panic: %v", r)
			}
		}()
		done <- p.Check(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("probe timed out: %w", ctx.Err())
	}

	if err != nil {
		c.logger.Debug("dependency probe failed",
			zap.String("dependency", status.Name),
			zap.Error(err))
		status.Error = err.Error()
		return status
	}

	status.Healthy = true
	return status
}
