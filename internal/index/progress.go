// Package index runs the indexing pipeline: crawl, fetch, analyze, caption,
// embed, persist. Worker pools are connected by bounded channels so slow
// stages throttle the crawl instead of ballooning memory.
package index

import (
	"sync"
	"time"

	"piclocate/internal/types"
)

// maxTrackedErrors caps the error list at the most recent entries.
const maxTrackedErrors = 100

// Tracker is the process-wide indexing state. Written by the pipeline, read
// by the status surface. All methods are safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	running   bool
	startedAt time.Time
	processed int
	total     int
	current   string
	errors    []string
}

// NewTracker creates a tracker, optionally seeded from a persisted snapshot.
func NewTracker(seed *types.ProgressSnapshot) *Tracker {
	t := &Tracker{}
	if seed != nil {
		t.processed = seed.ProcessedCount
		t.total = seed.TotalCount
		t.errors = append(t.errors, seed.Errors...)
	}
	return t
}

// Start marks a run as active. Returns false if one is already running.
func (t *Tracker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	t.startedAt = time.Now().UTC()
	t.processed = 0
	t.total = 0
	t.current = ""
	t.errors = nil
	return true
}

// Finish marks the run as done.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.current = ""
}

// AddTotal bumps the discovered-file count.
func (t *Tracker) AddTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += n
}

// MarkProcessed records one finished image.
func (t *Tracker) MarkProcessed(file string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.current = file
}

// RecordError appends an error line, keeping only the most recent entries.
func (t *Tracker) RecordError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = append(t.errors, msg)
	if len(t.errors) > maxTrackedErrors {
		t.errors = t.errors[len(t.errors)-maxTrackedErrors:]
	}
}

// Snapshot copies the state out under the lock.
func (t *Tracker) Snapshot() types.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := types.ProgressSnapshot{
		IsRunning:      t.running,
		ProcessedCount: t.processed,
		TotalCount:     t.total,
		CurrentFile:    t.current,
		Errors:         append([]string(nil), t.errors...),
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		snap.StartedAt = &started
	}
	return snap
}
