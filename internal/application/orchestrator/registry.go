package orchestrator

import (
	"sync"
	"time"

	"github.com/aescanero/taskcore/pkg/domain"
)

// TaskRegistry is the authoritative map of task ID to task record.
//
// Stored records are never modified in place: Update builds a new record
// from a copy and swaps it in, and readers receive copies. Terminal records
// are frozen.
//
// Each Create starts a new run of the ID. UpdateRun only touches the run it
// names, so a superseded run cannot write over its successor.
type TaskRegistry struct {
	mu      sync.RWMutex
	records map[string]*domain.TaskRecord
	runs    map[string]uint64
	lastRun uint64
}

// NewTaskRegistry creates an empty registry
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		records: make(map[string]*domain.TaskRecord),
		runs:    make(map[string]uint64),
	}
}

// Create stores rec. It fails with DuplicateTaskError if a non-terminal
// record already exists for the ID; a terminal record is replaced.
func (r *TaskRegistry) Create(rec domain.TaskRecord) error {
	_, err := r.CreateRun(rec)
	return err
}

// CreateRun is Create that also returns the run number of the new record
func (r *TaskRegistry) CreateRun(rec domain.TaskRecord) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.records[rec.TaskID]; ok && !cur.Status.IsTerminal() {
		return 0, &DuplicateTaskError{TaskID: rec.TaskID}
	}

	r.lastRun++
	stored := rec.Clone()
	r.records[rec.TaskID] = &stored
	r.runs[rec.TaskID] = r.lastRun
	return r.lastRun, nil
}

// Get returns a snapshot of the record for taskID
func (r *TaskRegistry) Get(taskID string) (domain.TaskRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[taskID]
	if !ok {
		return domain.TaskRecord{}, false
	}
	return rec.Clone(), true
}

// Update applies fn to a copy of the record and stores the result.
// It returns errTerminal without calling fn if the record is terminal.
// Progress never decreases.
func (r *TaskRegistry) Update(taskID string, fn func(rec *domain.TaskRecord)) (domain.TaskRecord, error) {
	return r.UpdateRun(taskID, 0, fn)
}

// UpdateRun is Update restricted to one run. It returns errSuperseded if
// the ID has been resubmitted since. Run 0 matches any run.
func (r *TaskRegistry) UpdateRun(taskID string, run uint64, fn func(rec *domain.TaskRecord)) (domain.TaskRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.records[taskID]
	if !ok {
		return domain.TaskRecord{}, errNotFound(taskID)
	}
	if run != 0 && r.runs[taskID] != run {
		return domain.TaskRecord{}, errSuperseded
	}
	if cur.Status.IsTerminal() {
		return cur.Clone(), errTerminal
	}

	next := cur.Clone()
	fn(&next)

	next.TaskID = cur.TaskID
	if next.ProgressPercent < cur.ProgressPercent {
		next.ProgressPercent = cur.ProgressPercent
	}
	if next.ProgressPercent > 100 {
		next.ProgressPercent = 100
	}

	r.records[taskID] = &next
	return next.Clone(), nil
}

// Sweep removes terminal records that ended before now-retention and
// returns how many were removed. Running records are never removed.
func (r *TaskRegistry) Sweep(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.records {
		if !rec.Status.IsTerminal() || rec.EndTime == nil {
			continue
		}
		if rec.EndTime.Before(cutoff) {
			delete(r.records, id)
			delete(r.runs, id)
			removed++
		}
	}
	return removed
}

// Counts returns the number of records per status
func (r *TaskRegistry) Counts() map[domain.TaskStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.TaskStatus]int)
	for _, rec := range r.records {
		counts[rec.Status]++
	}
	return counts
}

// Len returns the number of stored records
func (r *TaskRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
