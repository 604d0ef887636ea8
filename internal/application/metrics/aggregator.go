package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/taskcore/pkg/domain"
)

// Aggregator accumulates execution metrics. Construct one per process with
// NewAggregator and share the pointer.
type Aggregator struct {
	totalTasks      atomic.Int64
	successfulTasks atomic.Int64
	activeTasks     atomic.Int64
	totalExecTimeMs atomicFloat

	taskTypes sync.Map // map[string]*taskTypeRecord
	agents    sync.Map // map[string]*agentRecord

	now func() time.Time
}

type taskTypeRecord struct {
	count        atomic.Int64
	successCount atomic.Int64
	totalTimeMs  atomicFloat
}

type agentRecord struct {
	processed      atomic.Int64
	errors         atomic.Int64
	totalLatencyMs atomicFloat
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// RecordExecution records one finished execution of taskType.
func (a *Aggregator) RecordExecution(taskType string, executionTimeMs float64, success bool) {
	a.totalTasks.Add(1)
	if success {
		a.successfulTasks.Add(1)
	}
	a.totalExecTimeMs.Add(executionTimeMs)

	rec := a.taskType(taskType)
	rec.count.Add(1)
	if success {
		rec.successCount.Add(1)
	}
	rec.totalTimeMs.Add(executionTimeMs)
}

// RecordAgentOperation records one step handled by agentName.
func (a *Aggregator) RecordAgentOperation(agentName string, latencyMs float64, success bool) {
	rec := a.agent(agentName)
	rec.processed.Add(1)
	if !success {
		rec.errors.Add(1)
	}
	rec.totalLatencyMs.Add(latencyMs)
}

// TaskStarted increments the active task gauge.
func (a *Aggregator) TaskStarted() {
	a.activeTasks.Add(1)
}

// TaskFinished decrements the active task gauge. It never goes below zero.
func (a *Aggregator) TaskFinished() {
	decrementFloor(&a.activeTasks)
}

// ActiveTasks returns the current active task gauge
func (a *Aggregator) ActiveTasks() int64 {
	return a.activeTasks.Load()
}

// Snapshot derives rates and averages from the current counters.
func (a *Aggregator) Snapshot() domain.MetricsSnapshot {
	total := a.totalTasks.Load()
	successful := a.successfulTasks.Load()
	totalTime := a.totalExecTimeMs.Load()

	snap := domain.MetricsSnapshot{
		TotalTasksProcessed:  total,
		SuccessfulTasks:      successful,
		ActiveTasks:          a.activeTasks.Load(),
		TotalExecutionTimeMs: totalTime,
		SuccessRate:          successRate(successful, total),
		AvgExecutionTimeMs:   average(totalTime, total),
		Agents:               []domain.AgentMetrics{},
		TaskTypes:            []domain.TaskTypeMetrics{},
		Timestamp:            a.now(),
	}

	a.agents.Range(func(key, value interface{}) bool {
		rec := value.(*agentRecord)
		processed := rec.processed.Load()
		errs := rec.errors.Load()
		latency := rec.totalLatencyMs.Load()
		snap.Agents = append(snap.Agents, domain.AgentMetrics{
			AgentName:      key.(string),
			Status:         agentStatus(processed, errs),
			TasksProcessed: processed,
			TotalLatencyMs: latency,
			ErrorCount:     errs,
			AvgLatencyMs:   average(latency, processed),
		})
		return true
	})
	sort.Slice(snap.Agents, func(i, j int) bool {
		return snap.Agents[i].AgentName < snap.Agents[j].AgentName
	})

	a.taskTypes.Range(func(key, value interface{}) bool {
		rec := value.(*taskTypeRecord)
		count := rec.count.Load()
		succ := rec.successCount.Load()
		t := rec.totalTimeMs.Load()
		snap.TaskTypes = append(snap.TaskTypes, domain.TaskTypeMetrics{
			TaskType:             key.(string),
			Count:                count,
			SuccessCount:         succ,
			TotalExecutionTimeMs: t,
			AvgExecutionTimeMs:   average(t, count),
			SuccessRate:          successRate(succ, count),
		})
		return true
	})
	sort.Slice(snap.TaskTypes, func(i, j int) bool {
		return snap.TaskTypes[i].TaskType < snap.TaskTypes[j].TaskType
	})

	return snap
}

func (a *Aggregator) taskType(name string) *taskTypeRecord {
	if v, ok := a.taskTypes.Load(name); ok {
		return v.(*taskTypeRecord)
	}
	v, _ := a.taskTypes.LoadOrStore(name, &taskTypeRecord{})
	return v.(*taskTypeRecord)
}

func (a *Aggregator) agent(name string) *agentRecord {
	if v, ok := a.agents.Load(name); ok {
		return v.(*agentRecord)
	}
	v, _ := a.agents.LoadOrStore(name, &agentRecord{})
	return v.(*agentRecord)
}

// successRate is defined as 100 when nothing has been recorded.
func successRate(successful, total int64) float64 {
	if total == 0 {
		return 100
	}
	return float64(successful) / float64(total) * 100
}

func average(sum float64, n int64) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func agentStatus(processed, errs int64) domain.AgentStatus {
	switch {
	case processed == 0:
		return domain.AgentStatusIdle
	case errs*2 > processed:
		return domain.AgentStatusDegraded
	default:
		return domain.AgentStatusHealthy
	}
}
