package workers

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Worker lifecycle states tracked by the registry.
const (
	StateIdle    = "idle"
	StateBusy    = "busy"
	StateError   = "error"
	StateStopped = "stopped"
)

// WorkerInfo is a point-in-time copy of one executor's state.
type WorkerInfo struct {
	ID             string
	State          string
	Stage          string
	DocumentID     *uuid.UUID
	LastHeartbeat  time.Time
	ProcessedCount int64
	ErrorCount     int64
}

type workerEntry struct {
	mu   sync.Mutex
	info WorkerInfo
}

type stageStats struct {
	cumulativeMs int64
	processed    int64
}

// Registry tracks executor liveness and throughput. Each worker owns its
// entry and mutates it under the entry mutex; the supervisor and status
// queries read through snapshots.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*workerEntry
	stages  map[string]*stageStats
}

func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*workerEntry),
		stages:  make(map[string]*stageStats),
	}
}

func (r *Registry) Register(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[id] = &workerEntry{
		info: WorkerInfo{
			ID:            id,
			State:         StateIdle,
			LastHeartbeat: time.Now().UTC(),
		},
	}
}

func (r *Registry) entry(id string) *workerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workers[id]
}

func (r *Registry) MarkBusy(id string, documentID uuid.UUID, stage string) {
	e := r.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info.State = StateBusy
	e.info.Stage = stage
	docID := documentID
	e.info.DocumentID = &docID
	e.info.LastHeartbeat = time.Now().UTC()
}

func (r *Registry) MarkIdle(id string) {
	e := r.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info.State = StateIdle
	e.info.Stage = ""
	e.info.DocumentID = nil
	e.info.LastHeartbeat = time.Now().UTC()
}

func (r *Registry) MarkStopped(id string) {
	e := r.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info.State = StateStopped
	e.info.Stage = ""
	e.info.DocumentID = nil
}

func (r *Registry) Heartbeat(id string) {
	e := r.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info.LastHeartbeat = time.Now().UTC()
}

// RecordSuccess counts a finished stage run. Only successful runs feed the
// per-stage average so retries do not skew completion estimates.
func (r *Registry) RecordSuccess(id string, stage string, elapsed time.Duration) {
	e := r.entry(id)
	if e != nil {
		e.mu.Lock()
		e.info.ProcessedCount++
		e.mu.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.stages[stage]
	if !ok {
		stats = &stageStats{}
		r.stages[stage] = stats
	}
	stats.cumulativeMs += elapsed.Milliseconds()
	stats.processed++
}

func (r *Registry) RecordFailure(id string) {
	e := r.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info.ErrorCount++
}

// MarkStalled flips busy workers whose last heartbeat predates the cutoff
// into the error state and returns their ids. Idle workers do not
// heartbeat and are never stalled.
func (r *Registry) MarkStalled(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stalled []string
	for id, e := range r.workers {
		e.mu.Lock()
		if e.info.State == StateBusy && e.info.LastHeartbeat.Before(cutoff) {
			e.info.State = StateError
			stalled = append(stalled, id)
		}
		e.mu.Unlock()
	}
	sort.Strings(stalled)
	return stalled
}

// Snapshot returns a stable copy of every worker's state, sorted by id.
func (r *Registry) Snapshot() []WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]WorkerInfo, 0, len(r.workers))
	for _, e := range r.workers {
		e.mu.Lock()
		info := e.info
		if e.info.DocumentID != nil {
			docID := *e.info.DocumentID
			info.DocumentID = &docID
		}
		e.mu.Unlock()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) StateCounts() map[string]int {
	counts := map[string]int{StateIdle: 0, StateBusy: 0, StateError: 0, StateStopped: 0}
	for _, info := range r.Snapshot() {
		counts[info.State]++
	}
	return counts
}

// StageAverage reports the rolling mean duration of a stage, false when
// the stage has not completed yet.
func (r *Registry) StageAverage(stage string) (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats, ok := r.stages[stage]
	if !ok || stats.processed == 0 {
		return 0, false
	}
	return time.Duration(stats.cumulativeMs/stats.processed) * time.Millisecond, true
}
