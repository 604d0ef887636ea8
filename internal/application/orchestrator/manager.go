package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/taskcore/internal/application/metrics"
	"github.com/aescanero/taskcore/internal/application/pipeline"
	"github.com/aescanero/taskcore/internal/application/workers"
	"github.com/aescanero/taskcore/pkg/domain"
	"github.com/aescanero/taskcore/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxInFlight bounds concurrent executions when no budget is configured.
	DefaultMaxInFlight = 64

	defaultCancelReason = "cancelled by request"
	shutdownReason      = "orchestrator shutting down"
	publishTimeout      = 2 * time.Second
)

// Config holds the collaborators of a Manager
type Config struct {
	Catalog *pipeline.Catalog
	Metrics *metrics.Aggregator
	Logger  *zap.Logger

	// Optional
	Executor       *pipeline.Executor
	Budget         *workers.Budget
	EventBus       ports.EventBus
	Collector      ports.MetricsCollector
	Health         ports.HealthChecker
	DefaultTimeout time.Duration
}

// Manager coordinates task execution
type Manager struct {
	registry      *TaskRegistry
	cancellations *CancellationRegistry
	executor      *pipeline.Executor
	catalog       *pipeline.Catalog
	metrics       *metrics.Aggregator
	budget        *workers.Budget
	eventBus      ports.EventBus
	collector     ports.MetricsCollector
	health        ports.HealthChecker
	validator     *Validator
	logger        *zap.Logger

	mu       sync.Mutex
	closing  bool

	// admit makes record creation and handle registration a single step as
	// seen by Cancel.
	admit sync.Mutex
	inflight sync.WaitGroup

	now func() time.Time
}

// NewManager creates a new orchestrator manager
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("step catalog is required")
	}
	if cfg.Metrics == nil {
		return nil, fmt.Errorf("metrics aggregator is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	m := &Manager{
		registry:      NewTaskRegistry(),
		cancellations: NewCancellationRegistry(),
		executor:      cfg.Executor,
		catalog:       cfg.Catalog,
		metrics:       cfg.Metrics,
		budget:        cfg.Budget,
		eventBus:      cfg.EventBus,
		collector:     cfg.Collector,
		health:        cfg.Health,
		validator:     NewValidator(cfg.DefaultTimeout),
		logger:        cfg.Logger,
		now:           time.Now,
	}
	if m.executor == nil {
		m.executor = pipeline.NewExecutor(cfg.Logger)
	}
	if m.budget == nil {
		m.budget = workers.NewBudget(DefaultMaxInFlight)
	}
	if m.collector == nil {
		m.collector = nopCollector{}
	}

	return m, nil
}

// Execute runs one task to a terminal state.
//
// A result is returned for every request that created a task record. The
// error is nil only when the task completed; otherwise it is a
// *StepExecutionError, *TimeoutError or *CancelledError. Requests that never
// created a record fail with ErrInvalidRequest, *DuplicateTaskError,
// ErrOverloaded or ErrShuttingDown and a nil result.
func (m *Manager) Execute(ctx context.Context, req domain.ExecuteRequest) (*domain.ExecutionResult, error) {
	return m.execute(ctx, req, "")
}

func (m *Manager) execute(ctx context.Context, req domain.ExecuteRequest, batchID string) (*domain.ExecutionResult, error) {
	req, timeout, err := m.validator.Normalize(req)
	if err != nil {
		return nil, err
	}

	// Fail fast on a running ID instead of queueing for a slot. Create
	// repeats the check once a slot is held.
	if cur, ok := m.registry.Get(req.TaskID); ok && !cur.Status.IsTerminal() {
		return nil, &DuplicateTaskError{TaskID: req.TaskID}
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	m.inflight.Add(1)
	m.mu.Unlock()
	defer m.inflight.Done()

	if err := m.budget.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOverloaded, err)
	}
	defer func() {
		m.budget.Release()
		m.reportBudget()
	}()
	m.reportBudget()

	start := m.now()
	rec := domain.TaskRecord{
		TaskID:        req.TaskID,
		TaskType:      req.TaskType,
		Status:        domain.TaskStatusRunning,
		StartTime:     start,
		Priority:      req.Priority,
		CorrelationID: req.CorrelationID,
		BatchID:       batchID,
	}
	m.admit.Lock()
	run, err := m.registry.CreateRun(rec)
	if err != nil {
		m.admit.Unlock()
		m.logger.Warn("task rejected",
			zap.String("task_id", req.TaskID),
			zap.Error(err))
		return nil, err
	}
	h := m.cancellations.Register(ctx, req.TaskID, start, timeout)
	h.run = run
	m.admit.Unlock()
	defer m.cancellations.Remove(h)

	m.metrics.TaskStarted()
	m.collector.RecordTaskStarted(req.TaskType)
	m.collector.SetActiveTasks(m.metrics.ActiveTasks())
	defer func() {
		m.metrics.TaskFinished()
		m.collector.SetActiveTasks(m.metrics.ActiveTasks())
	}()

	m.logger.Info("task started",
		zap.String("task_id", req.TaskID),
		zap.String("task_type", req.TaskType),
		zap.String("correlation_id", req.CorrelationID),
		zap.String("batch_id", batchID),
		zap.Int("priority", req.Priority),
		zap.Duration("timeout", timeout))
	m.publish(domain.EventTypeTaskStarted, rec, nil)

	steps := m.catalog.Resolve(req.TaskType)
	obs := &taskObserver{manager: m, record: rec, run: run, total: len(steps)}

	out, runErr := m.executor.Run(h.Context(), pipeline.RunSpec{
		TaskID:        req.TaskID,
		TaskType:      req.TaskType,
		CorrelationID: req.CorrelationID,
		Payload:       req.Payload,
		Steps:         steps,
	}, obs)

	return m.finalize(h, run, rec, out, runErr)
}

// finalize classifies the run outcome and writes the terminal record
func (m *Manager) finalize(h *CancellationHandle, run uint64, rec domain.TaskRecord, out []byte, runErr error) (*domain.ExecutionResult, error) {
	var (
		status    domain.TaskStatus
		resultErr error
	)

	switch {
	case runErr == nil:
		if state, _ := h.settle(handleFinished, ""); state == handleFinished {
			status = domain.TaskStatusCompleted
		} else {
			status, resultErr = domain.TaskStatusCancelled, m.settledError(h)
		}

	case errors.Is(runErr, pipeline.ErrInterrupted):
		status, resultErr = domain.TaskStatusCancelled, m.interruption(h, rec.BatchID)

	default:
		if state, _ := h.settle(handleFinished, ""); state == handleFinished {
			status = domain.TaskStatusFailed
			resultErr = toStepExecutionError(rec.TaskID, runErr)
		} else {
			status, resultErr = domain.TaskStatusCancelled, m.settledError(h)
		}
	}

	end := m.now()
	final, err := m.registry.UpdateRun(rec.TaskID, run, func(r *domain.TaskRecord) {
		r.Status = status
		r.EndTime = &end
		switch status {
		case domain.TaskStatusCompleted:
			r.ProgressPercent = 100
			r.Result = out
		case domain.TaskStatusFailed:
			r.CurrentStep = "failed: " + resultErr.Error()
			r.Error = resultErr.Error()
		case domain.TaskStatusCancelled:
			r.CurrentStep = cancelDescription(resultErr)
			r.Error = resultErr.Error()
		}
	})
	// A terminal record here was written by Cancel, which also published
	// the terminal event. A superseded run reports its own outcome only.
	published := errors.Is(err, errTerminal) || errors.Is(err, errSuperseded)
	if errors.Is(err, errSuperseded) {
		final = rec
		final.Status = status
	}
	if err != nil && !published {
		m.logger.Error("failed to finalize task record",
			zap.String("task_id", rec.TaskID),
			zap.Error(err))
	}

	duration := end.Sub(rec.StartTime)
	m.metrics.RecordExecution(rec.TaskType, float64(duration)/float64(time.Millisecond), status == domain.TaskStatusCompleted)
	m.collector.RecordTaskFinished(rec.TaskType, string(final.Status), duration)

	fields := []zap.Field{
		zap.String("task_id", rec.TaskID),
		zap.String("task_type", rec.TaskType),
		zap.String("correlation_id", rec.CorrelationID),
		zap.String("status", string(final.Status)),
		zap.Duration("duration", duration),
	}
	if resultErr != nil {
		m.logger.Warn("task finished", append(fields, zap.Error(resultErr))...)
	} else {
		m.logger.Info("task finished", fields...)
	}
	if !published {
		m.publish(terminalEventType(final.Status), final, map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
		})
	}

	result := &domain.ExecutionResult{
		TaskID:        rec.TaskID,
		Status:        final.Status,
		CorrelationID: rec.CorrelationID,
		Duration:      duration,
	}
	if final.Status == domain.TaskStatusCompleted {
		result.Output = out
	}
	if resultErr != nil {
		result.Error = resultErr.Error()
	}
	return result, resultErr
}

// interruption settles a handle whose context ended and returns the error
// describing why.
func (m *Manager) interruption(h *CancellationHandle, batchID string) error {
	cause := context.Cause(h.Context())

	next := handleCancelled
	if errors.Is(cause, context.DeadlineExceeded) && !m.now().Before(h.Deadline) {
		next = handleExpired
	}

	var reason string
	switch {
	case next == handleExpired:
		reason = "deadline exceeded"
	case batchID != "":
		reason = fmt.Sprintf("batch %s cancelled: %v", batchID, cause)
	default:
		reason = fmt.Sprintf("cancelled by caller: %v", cause)
	}

	h.settle(next, reason)
	return m.settledError(h)
}

// settledError describes a handle that left the active state other than by
// finishing.
func (m *Manager) settledError(h *CancellationHandle) error {
	if h.State() == handleExpired {
		return &TimeoutError{TaskID: h.TaskID, Timeout: h.Timeout}
	}
	return &CancelledError{TaskID: h.TaskID, Reason: h.Reason()}
}

// Validate reports whether Execute would accept req, without running it
func (m *Manager) Validate(req domain.ExecuteRequest) error {
	_, _, err := m.validator.Normalize(req)
	return err
}

// GetStatus returns a snapshot of the task record. Unknown IDs yield a
// record with status not_found.
func (m *Manager) GetStatus(taskID string) domain.TaskRecord {
	rec, ok := m.registry.Get(taskID)
	if !ok {
		return domain.NotFoundRecord(taskID)
	}
	return rec
}

// Cancel requests termination of a running task. It returns true only for
// the call that cancelled the task; unknown or finished tasks yield false.
// The running step is not interrupted unless its handler watches its context.
// Once a resubmitted ID shows as running, Cancel targets the new run even if
// an earlier run of that ID is still draining.
func (m *Manager) Cancel(taskID, reason string) bool {
	m.admit.Lock()
	h, ok := m.cancellations.Get(taskID)
	m.admit.Unlock()
	if !ok {
		return false
	}
	if reason == "" {
		reason = defaultCancelReason
	}
	if !h.Cancel(reason) {
		return false
	}

	now := m.now()
	rec, err := m.registry.UpdateRun(taskID, h.run, func(r *domain.TaskRecord) {
		r.Status = domain.TaskStatusCancelled
		r.CurrentStep = reason
		r.Error = (&CancelledError{TaskID: taskID, Reason: reason}).Error()
		r.EndTime = &now
	})

	m.logger.Info("task cancellation requested",
		zap.String("task_id", taskID),
		zap.String("reason", reason))

	if err != nil {
		m.logger.Debug("cancel raced with finalization",
			zap.String("task_id", taskID),
			zap.Error(err))
		return true
	}
	m.publish(domain.EventTypeTaskCancelled, rec, map[string]interface{}{"reason": reason})

	return true
}

// CheckDependencies runs the configured health checker
func (m *Manager) CheckDependencies(ctx context.Context) domain.HealthReport {
	if m.health == nil {
		return domain.NewHealthReport([]domain.DependencyStatus{}, m.now())
	}

	deps := m.health.Check(ctx)
	report := domain.NewHealthReport(deps, m.now())

	for _, d := range deps {
		m.collector.SetDependencyHealth(d.Name, d.Healthy, time.Duration(d.LatencyMs*float64(time.Millisecond)))
	}
	for _, unhealthy := range report.Unhealthy() {
		m.logger.Warn("dependency unhealthy",
			zap.String("dependency", unhealthy.Name),
			zap.Error(unhealthy))
	}

	return report
}

// GetMetrics returns the current metrics snapshot
func (m *Manager) GetMetrics() domain.MetricsSnapshot {
	return m.metrics.Snapshot()
}

// SweepExpired evicts terminal records that ended more than retention ago
func (m *Manager) SweepExpired(retention time.Duration) int {
	removed := m.registry.Sweep(m.now(), retention)
	if removed > 0 {
		m.logger.Debug("swept task records",
			zap.Int("removed", removed),
			zap.Int("remaining", m.registry.Len()),
			zap.Any("by_status", m.registry.Counts()))
	}
	return removed
}

// BudgetStatus reports usage of the execution budget
func (m *Manager) BudgetStatus() workers.BudgetStatus {
	return m.budget.Status()
}

// Shutdown cancels running tasks and waits for them to finish
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	for _, id := range m.cancellations.TaskIDs() {
		m.Cancel(id, shutdownReason)
	}

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (m *Manager) reportBudget() {
	st := m.budget.Status()
	m.collector.SetWorkerBudget(st.Capacity, st.InUse)
}

// publish sends a lifecycle event. Failures are logged and otherwise ignored.
func (m *Manager) publish(eventType domain.EventType, rec domain.TaskRecord, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}

	if data == nil {
		data = make(map[string]interface{})
	}
	data["status"] = string(rec.Status)
	data["progress_percent"] = rec.ProgressPercent
	if rec.CurrentStep != "" {
		data["current_step"] = rec.CurrentStep
	}

	m.emit(domain.Event{
		Type:          eventType,
		TaskID:        rec.TaskID,
		BatchID:       rec.BatchID,
		CorrelationID: rec.CorrelationID,
		Data:          data,
	})
}

func (m *Manager) emit(event domain.Event) {
	if m.eventBus == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	event.ID = uuid.New().String()
	event.Timestamp = m.now()

	if err := m.eventBus.Publish(ctx, domain.TopicTaskEvents, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("task_id", event.TaskID),
			zap.String("batch_id", event.BatchID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

// taskObserver turns step notifications into progress updates and agent metrics
type taskObserver struct {
	manager *Manager
	record  domain.TaskRecord
	run     uint64
	total   int
}

func (o *taskObserver) StepStarted(int, pipeline.Step) {}

func (o *taskObserver) StepFinished(index int, step pipeline.Step, latency time.Duration, err error) {
	m := o.manager
	m.metrics.RecordAgentOperation(step.Agent, float64(latency)/float64(time.Millisecond), err == nil)
	m.collector.RecordStep(step.Agent, err == nil, latency)

	if err != nil {
		return
	}

	progress := (index + 1) * 100 / o.total
	rec, uerr := m.registry.UpdateRun(o.record.TaskID, o.run, func(r *domain.TaskRecord) {
		r.CurrentStep = step.Name
		r.ProgressPercent = progress
	})
	if uerr != nil {
		return
	}
	m.publish(domain.EventTypeTaskProgress, rec, map[string]interface{}{
		"step":  step.Name,
		"agent": step.Agent,
	})
}

func toStepExecutionError(taskID string, err error) error {
	var stepErr *pipeline.StepError
	if errors.As(err, &stepErr) {
		return &StepExecutionError{TaskID: taskID, Step: stepErr.Step, Agent: stepErr.Agent, Err: stepErr.Err}
	}
	return &StepExecutionError{TaskID: taskID, Err: err}
}

func cancelDescription(err error) string {
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return "deadline exceeded"
	}
	var cancelled *CancelledError
	if errors.As(err, &cancelled) {
		return cancelled.Reason
	}
	return err.Error()
}

func terminalEventType(status domain.TaskStatus) domain.EventType {
	switch status {
	case domain.TaskStatusCompleted:
		return domain.EventTypeTaskCompleted
	case domain.TaskStatusFailed:
		return domain.EventTypeTaskFailed
	default:
		return domain.EventTypeTaskCancelled
	}
}

type nopCollector struct{}

func (nopCollector) RecordTaskStarted(string) {}
func (nopCollector) RecordTaskFinished(string, string, time.Duration) {}
func (nopCollector) RecordStep(string, bool, time.Duration) {}
func (nopCollector) RecordBatch(string, int, int) {}
func (nopCollector) SetActiveTasks(int64) {}
func (nopCollector) SetWorkerBudget(int64, int64) {}
func (nopCollector) SetDependencyHealth(string, bool, time.Duration) {}
