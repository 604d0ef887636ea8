package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of periodic background work
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Monitor runs jobs on their own tickers
type Monitor struct {
	logger *zap.Logger
	jobs   []Job

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor creates a new monitor
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{logger: logger}
}

// Add registers a job. Jobs added after Start run from the next Start.
func (m *Monitor) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run function is required", job.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

// Start launches every registered job
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	for _, job := range m.jobs {
		m.wg.Add(1)
		go m.run(ctx, job)
	}

	m.logger.Info("monitor started", zap.Int("jobs", len(m.jobs)))
}

// Stop halts all jobs and waits for running ones to return, or for ctx to end
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("monitor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor shutdown timeout")
	}
}

// run is the loop of a single job
func (m *Monitor) run(ctx context.Context, job Job) {
	defer m.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runOnce(ctx, job)
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor job panicked",
				zap.String("job", job.Name),
				zap.Any("panic", r))
		}
	}()
	job.Run(ctx)
}
