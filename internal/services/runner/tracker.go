package runner

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"TradeWatch/internal/domain/models"
)

// Tracker keeps pull-based snapshots of recent batches.
// Only the owning batch aggregator writes a batch entry.
type Tracker struct {
	mu      sync.RWMutex
	limit   int
	batches map[string]*models.BatchStatus
}

// NewTracker keeps at most limit batches, evicting the oldest finished ones first.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 100
	}
	return &Tracker{limit: limit, batches: make(map[string]*models.BatchStatus)}
}

func (t *Tracker) begin(id string, jobs []*models.AnalysisJob, at time.Time) {
	st := &models.BatchStatus{
		BatchID:   id,
		State:     models.BatchRunning,
		Total:     len(jobs),
		StartedAt: at,
		Records:   make([]models.JobRecord, len(jobs)),
	}
	for i, j := range jobs {
		st.Records[i] = models.JobRecord{JobID: j.ID, Symbol: j.Symbol, Status: models.JobPending}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches[id] = st
	t.evictLocked()
}

func (t *Tracker) update(id string, index int, rec models.JobRecord, terminal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.batches[id]
	if !ok || index < 0 || index >= len(st.Records) {
		return
	}
	st.Records[index] = rec
	if !terminal {
		return
	}
	st.Completed++
	switch rec.Status {
	case models.JobSucceeded:
		st.Succeeded++
	case models.JobTimedOut:
		st.TimedOut++
	default:
		st.Failed++
	}
}

func (t *Tracker) finish(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.batches[id]; ok {
		st.State = models.BatchCompleted
		st.FinishedAt = &at
	}
}

// Status returns a copy of the batch snapshot.
func (t *Tracker) Status(id string) (*models.BatchStatus, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, models.ErrNotFound)
	}
	return cloneStatus(st), nil
}

// List returns copies of all tracked batches, newest first.
func (t *Tracker) List() []*models.BatchStatus {
	t.mu.RLock()
	out := make([]*models.BatchStatus, 0, len(t.batches))
	for _, st := range t.batches {
		out = append(out, cloneStatus(st))
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (t *Tracker) evictLocked() {
	for len(t.batches) > t.limit {
		var oldest *models.BatchStatus
		for _, st := range t.batches {
			if st.State != models.BatchCompleted {
				continue
			}
			if oldest == nil || st.StartedAt.Before(oldest.StartedAt) {
				oldest = st
			}
		}
		if oldest == nil {
			return
		}
		delete(t.batches, oldest.BatchID)
	}
}

func cloneStatus(st *models.BatchStatus) *models.BatchStatus {
	cp := *st
	cp.Records = append([]models.JobRecord(nil), st.Records...)
	if st.FinishedAt != nil {
		f := *st.FinishedAt
		cp.FinishedAt = &f
	}
	return &cp
}
