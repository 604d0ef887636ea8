package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskcore"

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	tasksStarted  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	activeTasks   prometheus.Gauge

	stepsExecuted *prometheus.CounterVec
	stepsFailed   *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	batchesFinished *prometheus.CounterVec
	batchTasks      *prometheus.CounterVec

	budgetCapacity prometheus.Gauge
	budgetInUse    prometheus.Gauge

	dependencyUp      *prometheus.GaugeVec
	dependencyLatency *prometheus.GaugeVec
}

// NewCollector creates a collector registered on the default registerer
func NewCollector() *Collector {
	return NewCollectorWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegisterer creates a collector registered on reg
func NewCollectorWithRegisterer(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		tasksStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_started_total",
				Help:      "Total number of tasks started",
			},
			[]string{"task_type"},
		),
		tasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "Total number of tasks that reached a terminal state",
			},
			[]string{"task_type", "status"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Task execution duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"task_type", "status"},
		),
		activeTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_tasks",
				Help:      "Number of currently running tasks",
			},
		),
		stepsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of pipeline steps executed",
			},
			[]string{"agent"},
		),
		stepsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_failed_total",
				Help:      "Total number of pipeline steps failed",
			},
			[]string{"agent"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Pipeline step duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"agent"},
		),
		batchesFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_finished_total",
				Help:      "Total number of batches finished",
			},
			[]string{"status"},
		),
		batchTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_tasks_total",
				Help:      "Batch member tasks by outcome",
			},
			[]string{"outcome"},
		),
		budgetCapacity: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_budget_capacity",
				Help:      "Maximum number of concurrent executions",
			},
		),
		budgetInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_budget_in_use",
				Help:      "Execution slots currently held",
			},
		),
		dependencyUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dependency_up",
				Help:      "Whether a dependency passed its last health check (1) or not (0)",
			},
			[]string{"dependency"},
		),
		dependencyLatency: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dependency_check_latency_seconds",
				Help:      "Latency of the last dependency health check",
			},
			[]string{"dependency"},
		),
	}
}

// RecordTaskStarted counts a started task
func (c *Collector) RecordTaskStarted(taskType string) {
	c.tasksStarted.WithLabelValues(taskType).Inc()
}

// RecordTaskFinished counts a terminal task and observes its duration
func (c *Collector) RecordTaskFinished(taskType, status string, duration time.Duration) {
	c.tasksFinished.WithLabelValues(taskType, status).Inc()
	c.taskDuration.WithLabelValues(taskType, status).Observe(duration.Seconds())
}

// RecordStep records one step execution for agent
func (c *Collector) RecordStep(agent string, success bool, duration time.Duration) {
	c.stepsExecuted.WithLabelValues(agent).Inc()
	if !success {
		c.stepsFailed.WithLabelValues(agent).Inc()
	}
	c.stepDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordBatch records a finished batch
func (c *Collector) RecordBatch(status string, accepted, total int) {
	c.batchesFinished.WithLabelValues(status).Inc()
	c.batchTasks.WithLabelValues("accepted").Add(float64(accepted))
	c.batchTasks.WithLabelValues("rejected").Add(float64(total - accepted))
}

// SetActiveTasks sets the number of running tasks
func (c *Collector) SetActiveTasks(count int64) {
	c.activeTasks.Set(float64(count))
}

// SetWorkerBudget records execution budget usage
func (c *Collector) SetWorkerBudget(capacity, inUse int64) {
	c.budgetCapacity.Set(float64(capacity))
	c.budgetInUse.Set(float64(inUse))
}

// SetDependencyHealth records the last health check of a dependency
func (c *Collector) SetDependencyHealth(name string, healthy bool, latency time.Duration) {
	up := 0.0
	if healthy {
		up = 1
	}
	c.dependencyUp.WithLabelValues(name).Set(up)
	c.dependencyLatency.WithLabelValues(name).Set(latency.Seconds())
}
