package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/aescanero/taskcore/pkg/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type memberOutcome struct {
	index int
	err   error
}

// SubmitBatch executes the member tasks of req and reports how many were
// accepted, meaning their Execute call returned without error.
//
// Sequential batches run members in list order. With StopOnError the first
// failing member ends the batch and later members are never created.
// Parallel batches launch every member at once, bounded only by the worker
// budget. With StopOnError they share a batch context that the first failing
// member cancels, which cancels its siblings.
func (m *Manager) SubmitBatch(ctx context.Context, req domain.BatchRequest) (*domain.BatchResult, error) {
	if err := m.validator.ValidateBatch(req); err != nil {
		return nil, err
	}

	start := m.now()
	m.logger.Info("batch submitted",
		zap.String("batch_id", req.BatchID),
		zap.Int("tasks", len(req.Tasks)),
		zap.Bool("parallel", req.Parallel),
		zap.Bool("stop_on_error", req.StopOnError))
	m.emit(domain.Event{
		Type:    domain.EventTypeBatchSubmitted,
		BatchID: req.BatchID,
		Data: map[string]interface{}{
			"total_tasks":   len(req.Tasks),
			"parallel":      req.Parallel,
			"stop_on_error": req.StopOnError,
		},
	})

	var outcomes []memberOutcome
	if req.Parallel {
		outcomes = m.runParallel(ctx, req)
	} else {
		outcomes = m.runSequential(ctx, req)
	}

	result := &domain.BatchResult{
		BatchID:    req.BatchID,
		TotalTasks: len(req.Tasks),
	}
	for _, o := range outcomes {
		if o.err == nil {
			result.AcceptedTasks++
			continue
		}
		result.Failures = append(result.Failures, domain.BatchFailure{
			TaskID: req.Tasks[o.index].TaskID,
			Error:  o.err.Error(),
		})
	}
	result.Status = batchStatus(req, result)

	m.collector.RecordBatch(string(result.Status), result.AcceptedTasks, result.TotalTasks)
	m.logger.Info("batch finished",
		zap.String("batch_id", req.BatchID),
		zap.String("status", string(result.Status)),
		zap.Int("accepted", result.AcceptedTasks),
		zap.Int("total", result.TotalTasks),
		zap.Duration("duration", m.now().Sub(start)))
	m.emit(domain.Event{
		Type:    domain.EventTypeBatchFinished,
		BatchID: req.BatchID,
		Data: map[string]interface{}{
			"status":         string(result.Status),
			"total_tasks":    result.TotalTasks,
			"accepted_tasks": result.AcceptedTasks,
			"failures":       len(result.Failures),
		},
	})

	return result, nil
}

func (m *Manager) runSequential(ctx context.Context, req domain.BatchRequest) []memberOutcome {
	outcomes := make([]memberOutcome, 0, len(req.Tasks))
	for i, task := range req.Tasks {
		_, err := m.execute(ctx, task, req.BatchID)
		outcomes = append(outcomes, memberOutcome{index: i, err: err})
		if err != nil && req.StopOnError {
			m.logger.Warn("batch stopped on member failure",
				zap.String("batch_id", req.BatchID),
				zap.String("task_id", task.TaskID),
				zap.Int("skipped", len(req.Tasks)-i-1),
				zap.Error(err))
			break
		}
	}
	return outcomes
}

func (m *Manager) runParallel(ctx context.Context, req domain.BatchRequest) []memberOutcome {
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu       sync.Mutex
		outcomes = make([]memberOutcome, 0, len(req.Tasks))
	)

	for i, task := range req.Tasks {
		g.Go(func() error {
			_, err := m.execute(gctx, task, req.BatchID)

			mu.Lock()
			outcomes = append(outcomes, memberOutcome{index: i, err: err})
			mu.Unlock()

			if req.StopOnError {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.logger.Warn("batch cancelled on member failure",
			zap.String("batch_id", req.BatchID),
			zap.Error(err))
	}

	sort.Slice(outcomes, func(a, b int) bool { return outcomes[a].index < outcomes[b].index })
	return outcomes
}

func batchStatus(req domain.BatchRequest, result *domain.BatchResult) domain.BatchStatus {
	switch {
	case len(result.Failures) == 0:
		return domain.BatchStatusCompleted
	case req.StopOnError:
		return domain.BatchStatusAborted
	case result.AcceptedTasks == 0:
		return domain.BatchStatusFailed
	default:
		return domain.BatchStatusPartial
	}
}
