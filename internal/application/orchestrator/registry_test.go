package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/aescanero/taskcore/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningRecord(id string) domain.TaskRecord {
	return domain.TaskRecord{
		TaskID:    id,
		TaskType:  "demo",
		Status:    domain.TaskStatusRunning,
		StartTime: time.Now(),
		Priority:  domain.DefaultPriority,
	}
}

func TestTaskRegistry_CreateAndGet(t *testing.T) {
	r := NewTaskRegistry()
	require.NoError(t, r.Create(runningRecord("t1")))

	rec, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusRunning, rec.Status)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestTaskRegistry_GetReturnsCopy(t *testing.T) {
	r := NewTaskRegistry()
	require.NoError(t, r.Create(runningRecord("t1")))

	end := time.Now()
	_, err := r.Update("t1", func(rec *domain.TaskRecord) {
		rec.Status = domain.TaskStatusCompleted
		rec.Result = []byte("out")
		rec.EndTime = &end
	})
	require.NoError(t, err)

	snap, _ := r.Get("t1")
	snap.Result[0] = 'X'
	*snap.EndTime = end.Add(time.Hour)

	again, _ := r.Get("t1")
	assert.Equal(t, []byte("out"), again.Result)
	assert.True(t, again.EndTime.Equal(end))
}

func TestTaskRegistry_CreateDuplicate(t *testing.T) {
	r := NewTaskRegistry()
	require.NoError(t, r.Create(runningRecord("t1")))

	err := r.Create(runningRecord("t1"))
	var dup *DuplicateTaskError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "t1", dup.TaskID)
}

func TestTaskRegistry_CreateReplacesTerminal(t *testing.T) {
	r := NewTaskRegistry()
	require.NoError(t, r.Create(runningRecord("t1")))
	_, err := r.Update("t1", func(rec *domain.TaskRecord) { rec.Status = domain.TaskStatusFailed })
	require.NoError(t, err)

	require.NoError(t, r.Create(runningRecord("t1")))
	rec, _ := r.Get("t1")
	assert.Equal(t, domain.TaskStatusRunning, rec.Status)
}

func TestTaskRegistry_UpdateProgress(t *testing.T) {
	r := NewTaskRegistry()
	require.NoError(t, r.Create(runningRecord("t1")))

	rec, err := r.Update("t1", func(rec *domain.TaskRecord) { rec.ProgressPercent = 60 })
	require.NoError(t, err)
	assert.Equal(t, 60, rec.ProgressPercent)

	rec, err = r.Update("t1", func(rec *domain.TaskRecord) { rec.ProgressPercent = 20 })
	require.NoError(t, err)
	assert.Equal(t, 60, rec.ProgressPercent)

	rec, err = r.Update("t1", func(rec *domain.TaskRecord) { rec.ProgressPercent = 250 })
	require.NoError(t, err)
	assert.Equal(t, 100, rec.ProgressPercent)
}

func TestTaskRegistry_UpdateCannotChangeID(t *testing.T) {
	r := NewTaskRegistry()
	require.NoError(t, r.Create(runningRecord("t1")))

	rec, err := r.Update("t1", func(rec *domain.TaskRecord) { rec.TaskID = "other" })
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.TaskID)
}

func TestTaskRegistry_TerminalRecordsAreFrozen(t *testing.T) {
	r := NewTaskRegistry()
	require.NoError(t, r.Create(runningRecord("t1")))
	_, err := r.Update("t1", func(rec *domain.TaskRecord) {
		rec.Status = domain.TaskStatusCancelled
		rec.CurrentStep = "user abort"
	})
	require.NoError(t, err)

	called := false
	rec, err := r.Update("t1", func(rec *domain.TaskRecord) {
		called = true
		rec.Status = domain.TaskStatusCompleted
	})
	assert.True(t, errors.Is(err, errTerminal))
	assert.False(t, called)
	assert.Equal(t, domain.TaskStatusCancelled, rec.Status)
	assert.Equal(t, "user abort", rec.CurrentStep)
}

func TestTaskRegistry_UpdateUnknown(t *testing.T) {
	r := NewTaskRegistry()
	_, err := r.Update("missing", func(*domain.TaskRecord) {})
	assert.ErrorContains(t, err, "not found")
}

func TestTaskRegistry_Sweep(t *testing.T) {
	r := NewTaskRegistry()
	now := time.Now()
	old := now.Add(-2 * time.Hour)
	recent := now.Add(-time.Minute)

	for _, id := range []string{"old", "recent", "running"} {
		require.NoError(t, r.Create(runningRecord(id)))
	}
	_, err := r.Update("old", func(rec *domain.TaskRecord) {
		rec.Status = domain.TaskStatusCompleted
		rec.EndTime = &old
	})
	require.NoError(t, err)
	_, err = r.Update("recent", func(rec *domain.TaskRecord) {
		rec.Status = domain.TaskStatusFailed
		rec.EndTime = &recent
	})
	require.NoError(t, err)

	assert.Equal(t, 1, r.Sweep(now, time.Hour))
	assert.Equal(t, 2, r.Len())

	_, ok := r.Get("old")
	assert.False(t, ok)

	counts := r.Counts()
	assert.Equal(t, 1, counts[domain.TaskStatusRunning])
	assert.Equal(t, 1, counts[domain.TaskStatusFailed])
}

func TestTaskRegistry_UpdateRunIgnoresSupersededRun(t *testing.T) {
	r := NewTaskRegistry()
	oldRun, err := r.CreateRun(runningRecord("t1"))
	require.NoError(t, err)

	end := time.Now()
	_, err = r.UpdateRun("t1", oldRun, func(rec *domain.TaskRecord) {
		rec.Status = domain.TaskStatusCancelled
		rec.EndTime = &end
	})
	require.NoError(t, err)

	newRun, err := r.CreateRun(runningRecord("t1"))
	require.NoError(t, err)
	assert.NotEqual(t, oldRun, newRun)

	_, err = r.UpdateRun("t1", oldRun, func(rec *domain.TaskRecord) {
		rec.Status = domain.TaskStatusCompleted
	})
	assert.True(t, errors.Is(err, errSuperseded))

	_, err = r.UpdateRun("t1", newRun, func(rec *domain.TaskRecord) {
		rec.ProgressPercent = 50
	})
	require.NoError(t, err)

	rec, _ := r.Get("t1")
	assert.Equal(t, domain.TaskStatusRunning, rec.Status)
	assert.Equal(t, 50, rec.ProgressPercent)
}
