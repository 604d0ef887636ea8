package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/taskcore/internal/application/metrics"
	"github.com/aescanero/taskcore/internal/application/pipeline"
	"github.com/aescanero/taskcore/internal/application/workers"
	"github.com/aescanero/taskcore/pkg/domain"
	"github.com/aescanero/taskcore/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockEventBus is a mock implementation of ports.EventBus
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	args := m.Called(ctx, topic, handler)
	return args.Error(0)
}

func (m *MockEventBus) Unsubscribe(ctx context.Context, topic string) error {
	args := m.Called(ctx, topic)
	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockHealthChecker is a mock implementation of ports.HealthChecker
type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) Check(ctx context.Context) []domain.DependencyStatus {
	args := m.Called(ctx)
	return args.Get(0).([]domain.DependencyStatus)
}

// MockCollector is a mock implementation of ports.MetricsCollector
type MockCollector struct {
	mock.Mock
}

func (m *MockCollector) RecordTaskStarted(taskType string) { m.Called(taskType) }
func (m *MockCollector) RecordTaskFinished(taskType, status string, d time.Duration) {
	m.Called(taskType, status, d)
}
func (m *MockCollector) RecordStep(agent string, success bool, d time.Duration) {
	m.Called(agent, success, d)
}
func (m *MockCollector) RecordBatch(status string, accepted, total int) {
	m.Called(status, accepted, total)
}
func (m *MockCollector) SetActiveTasks(count int64)            { m.Called(count) }
func (m *MockCollector) SetWorkerBudget(capacity, inUse int64) { m.Called(capacity, inUse) }
func (m *MockCollector) SetDependencyHealth(name string, healthy bool, latency time.Duration) {
	m.Called(name, healthy, latency)
}

// recordingBus keeps every published event in order
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, _ string, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, ports.EventHandler) error {
	return nil
}

func (b *recordingBus) Unsubscribe(context.Context, string) error { return nil }
func (b *recordingBus) Close() error                              { return nil }

func (b *recordingBus) types(taskID string) []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.EventType
	for _, e := range b.events {
		if e.TaskID == taskID {
			out = append(out, e.Type)
		}
	}
	return out
}

// gate blocks a step until released, ignoring ctx
type gate struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) handler() pipeline.Handler {
	return pipeline.HandlerFunc(func(_ context.Context, in *pipeline.StepInput) ([]byte, error) {
		g.once.Do(func() { close(g.started) })
		<-g.release
		return in.Payload, nil
	})
}

func echoSteps(names ...string) []pipeline.Step {
	steps := make([]pipeline.Step, 0, len(names))
	for _, n := range names {
		steps = append(steps, pipeline.Step{Name: n, Agent: n + "-agent", Handler: pipeline.EchoHandler()})
	}
	return steps
}

func waitForCtx() pipeline.Handler {
	return pipeline.HandlerFunc(func(ctx context.Context, _ *pipeline.StepInput) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func testCatalog() *pipeline.Catalog {
	cat := pipeline.NewCatalog(echoSteps("validate", "enrich", "analyze", "synthesize", "finalize"))
	cat.Set("fail", []pipeline.Step{
		{Name: "validate", Agent: "validator", Handler: pipeline.EchoHandler()},
		{Name: "analyze", Agent: "reasoning-agent", Handler: pipeline.FailHandler("model unavailable")},
	})
	cat.Set("slow", []pipeline.Step{
		{Name: "analyze", Agent: "reasoning-agent", Handler: pipeline.NewSimulatedHandler(500*time.Millisecond, 500*time.Millisecond, nil)},
		{Name: "finalize", Agent: "orchestrator", Handler: pipeline.EchoHandler()},
	})
	cat.Set("wait", []pipeline.Step{
		{Name: "wait", Agent: "waiter", Handler: waitForCtx()},
	})
	return cat
}

func newTestManager(t *testing.T, opts ...func(*Config)) *Manager {
	t.Helper()

	cfg := &Config{
		Catalog: testCatalog(),
		Metrics: metrics.NewAggregator(),
		Logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for step to start")
	}
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)

	_, err = NewManager(&Config{Metrics: metrics.NewAggregator(), Logger: zap.NewNop()})
	assert.ErrorContains(t, err, "catalog")

	_, err = NewManager(&Config{Catalog: testCatalog(), Logger: zap.NewNop()})
	assert.ErrorContains(t, err, "metrics")

	_, err = NewManager(&Config{Catalog: testCatalog(), Metrics: metrics.NewAggregator()})
	assert.ErrorContains(t, err, "logger")
}

func TestExecute_CompletesPipeline(t *testing.T) {
	m := newTestManager(t)

	res, err := m.Execute(context.Background(), domain.ExecuteRequest{
		TaskID:        "t1",
		TaskType:      "demo",
		Payload:       []byte(`{"q":"hello"}`),
		Priority:      5,
		TimeoutMs:     30000,
		CorrelationID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, res.Status)
	assert.Equal(t, "c1", res.CorrelationID)
	assert.Equal(t, []byte(`{"q":"hello"}`), res.Output)

	rec := m.GetStatus("t1")
	assert.Equal(t, domain.TaskStatusCompleted, rec.Status)
	assert.Equal(t, 100, rec.ProgressPercent)
	assert.Equal(t, "finalize", rec.CurrentStep)
	assert.Equal(t, 5, rec.Priority)
	assert.NotNil(t, rec.EndTime)
	assert.Equal(t, []byte(`{"q":"hello"}`), rec.Result)

	assert.Equal(t, 0, m.cancellations.Len())
	assert.Equal(t, int64(1), m.cancellations.Removed())
}

func TestExecute_AppliesDefaults(t *testing.T) {
	m := newTestManager(t)

	res, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "t1", TaskType: "demo"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CorrelationID)

	rec := m.GetStatus("t1")
	assert.Equal(t, domain.DefaultPriority, rec.Priority)
	assert.Equal(t, res.CorrelationID, rec.CorrelationID)
}

func TestExecute_InvalidRequest(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskType: "demo"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "t1", TaskType: "demo", Priority: 11})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, domain.TaskStatusNotFound, m.GetStatus("t1").Status)
}

func TestExecute_DeadlineEndsCancelled(t *testing.T) {
	m := newTestManager(t)

	res, err := m.Execute(context.Background(), domain.ExecuteRequest{
		TaskID:    "t-slow",
		TaskType:  "slow",
		TimeoutMs: 1,
	})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "t-slow", timeoutErr.TaskID)
	assert.Equal(t, time.Millisecond, timeoutErr.Timeout)
	assert.Equal(t, domain.TaskStatusCancelled, res.Status)

	rec := m.GetStatus("t-slow")
	assert.Equal(t, domain.TaskStatusCancelled, rec.Status)
	assert.NotEqual(t, domain.TaskStatusFailed, rec.Status)
	assert.Equal(t, "deadline exceeded", rec.CurrentStep)
	assert.Equal(t, 0, m.cancellations.Len())
	assert.Equal(t, int64(1), m.cancellations.Removed())
}

func TestExecute_StepFailure(t *testing.T) {
	m := newTestManager(t)

	res, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "t-fail", TaskType: "fail"})

	var stepErr *StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "analyze", stepErr.Step)
	assert.Equal(t, "reasoning-agent", stepErr.Agent)
	assert.ErrorContains(t, err, "model unavailable")
	assert.Equal(t, domain.TaskStatusFailed, res.Status)
	assert.Nil(t, res.Output)

	rec := m.GetStatus("t-fail")
	assert.Equal(t, domain.TaskStatusFailed, rec.Status)
	assert.Equal(t, 50, rec.ProgressPercent)
	assert.Contains(t, rec.CurrentStep, "model unavailable")
	assert.NotEmpty(t, rec.Error)
	assert.Equal(t, 0, m.cancellations.Len())

	snap := m.GetMetrics()
	assert.Equal(t, int64(1), snap.TotalTasksProcessed)
	assert.Equal(t, int64(0), snap.SuccessfulTasks)
}

func TestExecute_ProgressNeverDecreases(t *testing.T) {
	var (
		mu       sync.Mutex
		observed []int
		m        *Manager
	)
	probe := pipeline.HandlerFunc(func(_ context.Context, in *pipeline.StepInput) ([]byte, error) {
		mu.Lock()
		observed = append(observed, m.GetStatus(in.TaskID).ProgressPercent)
		mu.Unlock()
		return in.Payload, nil
	})

	steps := make([]pipeline.Step, 0, 5)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		steps = append(steps, pipeline.Step{Name: name, Agent: "probe", Handler: probe})
	}
	m = newTestManager(t, func(c *Config) { c.Catalog = pipeline.NewCatalog(steps) })

	_, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "t1", TaskType: "demo"})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 20, 40, 60, 80}, observed)
	assert.Equal(t, 100, m.GetStatus("t1").ProgressPercent)
}

func TestExecute_DuplicateRunningTask(t *testing.T) {
	g := newGate()
	cat := testCatalog()
	cat.Set("gated", []pipeline.Step{{Name: "hold", Agent: "holder", Handler: g.handler()}})
	m := newTestManager(t, func(c *Config) { c.Catalog = cat })

	done := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "dup", TaskType: "gated"})
		done <- err
	}()
	waitClosed(t, g.started)

	_, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "dup", TaskType: "demo"})
	var dupErr *DuplicateTaskError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "dup", dupErr.TaskID)

	close(g.release)
	require.NoError(t, <-done)

	// resubmission after a terminal state is allowed
	res, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "dup", TaskType: "demo"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, res.Status)
	assert.Equal(t, int64(2), m.cancellations.Removed())
}

func TestCancel_RunningTask(t *testing.T) {
	g := newGate()
	cat := testCatalog()
	cat.Set("gated", []pipeline.Step{
		{Name: "hold", Agent: "holder", Handler: g.handler()},
		{Name: "finalize", Agent: "orchestrator", Handler: pipeline.EchoHandler()},
	})
	bus := &recordingBus{}
	m := newTestManager(t, func(c *Config) {
		c.Catalog = cat
		c.EventBus = bus
	})

	type outcome struct {
		res *domain.ExecutionResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "t-cancel", TaskType: "gated"})
		done <- outcome{res, err}
	}()
	waitClosed(t, g.started)

	assert.True(t, m.Cancel("t-cancel", "user abort"))
	assert.False(t, m.Cancel("t-cancel", "again"))

	rec := m.GetStatus("t-cancel")
	assert.Equal(t, domain.TaskStatusCancelled, rec.Status)
	assert.Equal(t, "user abort", rec.CurrentStep)

	close(g.release)
	out := <-done

	var cancelled *CancelledError
	require.ErrorAs(t, out.err, &cancelled)
	assert.Equal(t, "user abort", cancelled.Reason)
	assert.Equal(t, domain.TaskStatusCancelled, out.res.Status)

	rec = m.GetStatus("t-cancel")
	assert.Equal(t, domain.TaskStatusCancelled, rec.Status)
	assert.Equal(t, "user abort", rec.CurrentStep)
	assert.Equal(t, 0, rec.ProgressPercent)

	assert.False(t, m.Cancel("t-cancel", "after finish"))
	assert.Equal(t, 0, m.cancellations.Len())
	assert.Equal(t, int64(1), m.cancellations.Removed())

	types := bus.types("t-cancel")
	require.NotEmpty(t, types)
	assert.Equal(t, domain.EventTypeTaskStarted, types[0])
	assert.NotContains(t, types, domain.EventTypeTaskCompleted)

	cancelledEvents := 0
	for _, typ := range types {
		if typ == domain.EventTypeTaskCancelled {
			cancelledEvents++
		}
	}
	assert.Equal(t, 1, cancelledEvents)
}

func TestCancel_UnknownTask(t *testing.T) {
	m := newTestManager(t)
	assert.False(t, m.Cancel("missing", ""))
}

func TestCancel_ConcurrentCallersOnlyOneWins(t *testing.T) {
	g := newGate()
	cat := testCatalog()
	cat.Set("gated", []pipeline.Step{{Name: "hold", Agent: "holder", Handler: g.handler()}})
	m := newTestManager(t, func(c *Config) { c.Catalog = cat })

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "t1", TaskType: "gated"})
	}()
	waitClosed(t, g.started)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Cancel("t1", "") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(g.release)
	<-done

	assert.Equal(t, 1, wins)
	assert.Equal(t, defaultCancelReason, m.GetStatus("t1").CurrentStep)
}

func TestExecute_CallerContextCancelled(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := m.Execute(ctx, domain.ExecuteRequest{TaskID: "t-wait", TaskType: "wait"})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return m.GetStatus("t-wait").Status == domain.TaskStatusRunning
	}, 5*time.Second, time.Millisecond)
	cancel()

	err := <-done
	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Contains(t, cancelled.Reason, "cancelled by caller")
	assert.Equal(t, domain.TaskStatusCancelled, m.GetStatus("t-wait").Status)
	assert.Equal(t, 0, m.cancellations.Len())
}

func TestExecute_OverloadedWhenBudgetExhausted(t *testing.T) {
	g := newGate()
	cat := testCatalog()
	cat.Set("gated", []pipeline.Step{{Name: "hold", Agent: "holder", Handler: g.handler()}})
	m := newTestManager(t, func(c *Config) {
		c.Catalog = cat
		c.Budget = workers.NewBudget(1)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "holder", TaskType: "gated"})
	}()
	waitClosed(t, g.started)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Execute(ctx, domain.ExecuteRequest{TaskID: "queued", TaskType: "demo"})
	assert.ErrorIs(t, err, ErrOverloaded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.TaskStatusNotFound, m.GetStatus("queued").Status)

	close(g.release)
	<-done
	assert.Equal(t, int64(0), m.BudgetStatus().InUse)
}

func TestHandleRemovedOncePerExecution(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Execute(ctx, domain.ExecuteRequest{TaskID: "ok", TaskType: "demo"})
	require.NoError(t, err)
	_, err = m.Execute(ctx, domain.ExecuteRequest{TaskID: "bad", TaskType: "fail"})
	require.Error(t, err)
	_, err = m.Execute(ctx, domain.ExecuteRequest{TaskID: "late", TaskType: "slow", TimeoutMs: 1})
	require.Error(t, err)

	assert.Equal(t, int64(3), m.cancellations.Removed())
	assert.Equal(t, 0, m.cancellations.Len())
	assert.Equal(t, int64(0), m.GetMetrics().ActiveTasks)
}

func TestGetStatus_UnknownTask(t *testing.T) {
	m := newTestManager(t)

	rec := m.GetStatus("nope")
	assert.Equal(t, "nope", rec.TaskID)
	assert.Equal(t, domain.TaskStatusNotFound, rec.Status)
}

func TestGetMetrics_AfterExecutions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Execute(ctx, domain.ExecuteRequest{TaskID: "a", TaskType: "demo"})
	require.NoError(t, err)
	_, _ = m.Execute(ctx, domain.ExecuteRequest{TaskID: "b", TaskType: "fail"})

	snap := m.GetMetrics()
	assert.Equal(t, int64(2), snap.TotalTasksProcessed)
	assert.Equal(t, int64(1), snap.SuccessfulTasks)
	assert.InDelta(t, 50.0, snap.SuccessRate, 0.001)
	assert.Len(t, snap.TaskTypes, 2)

	var reasoning *domain.AgentMetrics
	for i := range snap.Agents {
		if snap.Agents[i].AgentName == "reasoning-agent" {
			reasoning = &snap.Agents[i]
		}
	}
	require.NotNil(t, reasoning)
	assert.Equal(t, int64(1), reasoning.TasksProcessed)
	assert.Equal(t, int64(1), reasoning.ErrorCount)
	assert.Equal(t, domain.AgentStatusDegraded, reasoning.Status)
}

func TestExecute_PublishesLifecycleEvents(t *testing.T) {
	bus := &recordingBus{}
	m := newTestManager(t, func(c *Config) { c.EventBus = bus })

	_, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "t1", TaskType: "demo", CorrelationID: "c1"})
	require.NoError(t, err)

	types := bus.types("t1")
	require.Len(t, types, 7)
	assert.Equal(t, domain.EventTypeTaskStarted, types[0])
	for _, typ := range types[1:6] {
		assert.Equal(t, domain.EventTypeTaskProgress, typ)
	}
	assert.Equal(t, domain.EventTypeTaskCompleted, types[6])

	for _, e := range bus.events {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "c1", e.CorrelationID)
	}
}

func TestExecute_PublishFailureDoesNotAffectOutcome(t *testing.T) {
	bus := new(MockEventBus)
	bus.On("Publish", mock.Anything, domain.TopicTaskEvents, mock.AnythingOfType("domain.Event")).
		Return(errors.New("bus unavailable"))
	m := newTestManager(t, func(c *Config) { c.EventBus = bus })

	res, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "t1", TaskType: "demo"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, res.Status)
	bus.AssertNumberOfCalls(t, "Publish", 7)
}

func TestExecute_ReportsToCollector(t *testing.T) {
	collector := new(MockCollector)
	collector.On("RecordTaskStarted", "fail").Return().Once()
	collector.On("RecordTaskFinished", "fail", "failed", mock.AnythingOfType("time.Duration")).Return().Once()
	collector.On("RecordStep", "validator", true, mock.Anything).Return().Once()
	collector.On("RecordStep", "reasoning-agent", false, mock.Anything).Return().Once()
	collector.On("SetActiveTasks", mock.Anything).Return()
	collector.On("SetWorkerBudget", mock.Anything, mock.Anything).Return()
	m := newTestManager(t, func(c *Config) { c.Collector = collector })

	_, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "t1", TaskType: "fail"})
	require.Error(t, err)

	collector.AssertExpectations(t)
	collector.AssertCalled(t, "SetActiveTasks", int64(0))
}

func TestCheckDependencies(t *testing.T) {
	checker := new(MockHealthChecker)
	checker.On("Check", mock.Anything).Return([]domain.DependencyStatus{
		{Name: "redis", Healthy: true, LatencyMs: 1.5},
		{Name: "postgres", Healthy: false, Error: "connection refused"},
	})
	collector := new(MockCollector)
	collector.On("SetDependencyHealth", "redis", true, mock.Anything).Return().Once()
	collector.On("SetDependencyHealth", "postgres", false, mock.Anything).Return().Once()

	m := newTestManager(t, func(c *Config) {
		c.Health = checker
		c.Collector = collector
	})

	report := m.CheckDependencies(context.Background())
	assert.False(t, report.Healthy)
	require.Len(t, report.Dependencies, 2)

	unhealthy := report.Unhealthy()
	require.Len(t, unhealthy, 1)
	assert.Equal(t, "postgres", unhealthy[0].Name)
	assert.ErrorContains(t, unhealthy[0], "connection refused")

	checker.AssertExpectations(t)
	collector.AssertExpectations(t)
}

func TestCheckDependencies_NoChecker(t *testing.T) {
	m := newTestManager(t)

	report := m.CheckDependencies(context.Background())
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Dependencies)
}

func TestSweepExpired(t *testing.T) {
	g := newGate()
	cat := testCatalog()
	cat.Set("gated", []pipeline.Step{{Name: "hold", Agent: "holder", Handler: g.handler()}})
	m := newTestManager(t, func(c *Config) { c.Catalog = cat })

	_, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "old", TaskType: "demo"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "running", TaskType: "gated"})
	}()
	waitClosed(t, g.started)

	assert.Equal(t, 0, m.SweepExpired(time.Hour))

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, m.SweepExpired(time.Hour))
	assert.Equal(t, domain.TaskStatusNotFound, m.GetStatus("old").Status)
	assert.Equal(t, domain.TaskStatusRunning, m.GetStatus("running").Status)

	close(g.release)
	<-done
}

func TestShutdown_CancelsRunningTasks(t *testing.T) {
	m := newTestManager(t)

	done := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "t-wait", TaskType: "wait"})
		done <- err
	}()
	require.Eventually(t, func() bool {
		return m.GetStatus("t-wait").Status == domain.TaskStatusRunning
	}, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	var cancelled *CancelledError
	require.ErrorAs(t, <-done, &cancelled)
	assert.Equal(t, shutdownReason, cancelled.Reason)

	_, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "late", TaskType: "demo"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestExecute_DeadlinePassedInsideStubbornStep(t *testing.T) {
	cat := testCatalog()
	cat.Set("stubborn", []pipeline.Step{{Name: "sleep", Agent: "sleeper", Handler: pipeline.HandlerFunc(
		func(_ context.Context, in *pipeline.StepInput) ([]byte, error) {
			time.Sleep(200 * time.Millisecond)
			return in.Payload, nil
		})}})
	m := newTestManager(t, func(c *Config) { c.Catalog = cat })

	res, err := m.Execute(context.Background(), domain.ExecuteRequest{
		TaskID:    "t-stubborn",
		TaskType:  "stubborn",
		TimeoutMs: 10,
	})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, domain.TaskStatusCancelled, res.Status)
	assert.Nil(t, res.Output)

	rec := m.GetStatus("t-stubborn")
	assert.Equal(t, domain.TaskStatusCancelled, rec.Status)
	assert.Equal(t, "deadline exceeded", rec.CurrentStep)
	assert.Nil(t, rec.Result)
}

func TestExecute_DuplicateRejectedWhileBudgetSaturated(t *testing.T) {
	g := newGate()
	cat := testCatalog()
	cat.Set("gated", []pipeline.Step{{Name: "hold", Agent: "holder", Handler: g.handler()}})
	m := newTestManager(t, func(c *Config) {
		c.Catalog = cat
		c.Budget = workers.NewBudget(1)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "dup", TaskType: "gated"})
	}()
	waitClosed(t, g.started)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	res, err := m.Execute(ctx, domain.ExecuteRequest{TaskID: "dup", TaskType: "gated"})

	assert.Nil(t, res)
	var dup *DuplicateTaskError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "dup", dup.TaskID)
	assert.NotErrorIs(t, err, ErrOverloaded)
	assert.Equal(t, int64(1), m.BudgetStatus().InUse)

	close(g.release)
	<-done
}

func TestCancel_ResubmittedTaskWhileEarlierRunDrains(t *testing.T) {
	first, second := newGate(), newGate()
	cat := testCatalog()
	cat.Set("first", []pipeline.Step{{Name: "hold", Agent: "holder", Handler: first.handler()}})
	cat.Set("second", []pipeline.Step{{Name: "hold", Agent: "holder", Handler: second.handler()}})
	m := newTestManager(t, func(c *Config) { c.Catalog = cat })

	firstDone := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "again", TaskType: "first"})
		firstDone <- err
	}()
	waitClosed(t, first.started)
	require.True(t, m.Cancel("again", "first run"))

	// The first run is still blocked in its step when the ID comes back.
	secondDone := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), domain.ExecuteRequest{TaskID: "again", TaskType: "second"})
		secondDone <- err
	}()
	waitClosed(t, second.started)

	close(first.release)
	var cancelled *CancelledError
	require.ErrorAs(t, <-firstDone, &cancelled)
	assert.Equal(t, "first run", cancelled.Reason)

	rec := m.GetStatus("again")
	assert.Equal(t, domain.TaskStatusRunning, rec.Status)
	assert.Equal(t, "second", rec.TaskType)

	assert.True(t, m.Cancel("again", "second run"))
	close(second.release)
	require.ErrorAs(t, <-secondDone, &cancelled)
	assert.Equal(t, "second run", cancelled.Reason)

	rec = m.GetStatus("again")
	assert.Equal(t, domain.TaskStatusCancelled, rec.Status)
	assert.Equal(t, "second run", rec.CurrentStep)
	assert.Equal(t, 0, m.cancellations.Len())
}

func TestManager_Validate(t *testing.T) {
	m := newTestManager(t)

	assert.NoError(t, m.Validate(domain.ExecuteRequest{TaskID: "t1", TaskType: "demo"}))
	assert.ErrorIs(t, m.Validate(domain.ExecuteRequest{TaskID: "t1", TaskType: "demo", Priority: 42}), ErrInvalidRequest)
	assert.ErrorIs(t, m.Validate(domain.ExecuteRequest{TaskID: "t1", TaskType: "demo", TimeoutMs: -1}), ErrInvalidRequest)
	assert.Equal(t, domain.TaskStatusNotFound, m.GetStatus("t1").Status)
}
