// Package ingeststate tracks the ephemeral, in-memory indexing status
// of each book: a mutex-guarded map of per-book snapshot/reset cells,
// one entry per book instead of one global cell.
package ingeststate

import "sync"

// Status is the lifecycle of a book's indexing run.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusIndexing Status = "indexing"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// State is a snapshot of one book's indexing progress. Safe to copy.
type State struct {
	Status          Status `json:"status"`
	Progress        int    `json:"progress"` // 0-100
	ChunksProcessed int    `json:"chunks_processed"`
	TotalChunks     int    `json:"total_chunks"`
	Phase           string `json:"phase,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Registry holds one State per book, created when indexing starts and
// discarded on clear. Create one with NewRegistry; a zero Registry
// has a nil map and panics on its first write.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*State
}

func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*State)}
}

// Begin registers an indexing state for bookHash, returning false if
// one already exists (the Indexer's "at most one indexBook per
// bookHash" concurrency guard).
func (r *Registry) Begin(bookHash string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[bookHash]; ok && s.Status == StatusIndexing {
		return false
	}
	r.states[bookHash] = &State{Status: StatusIndexing}
	return true
}

// Update replaces the progress fields of an in-flight state.
func (r *Registry) Update(bookHash string, phase string, current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[bookHash]
	if !ok {
		s = &State{}
		r.states[bookHash] = s
	}
	s.Status = StatusIndexing
	s.Phase = phase
	s.ChunksProcessed = current
	s.TotalChunks = total
	if total > 0 {
		s.Progress = (current * 100) / total
	}
}

// Complete marks a book's indexing run as finished successfully.
func (r *Registry) Complete(bookHash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[bookHash] = &State{Status: StatusComplete, Progress: 100}
}

// Fail marks a book's indexing run as failed, recording the error.
func (r *Registry) Fail(bookHash string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.states[bookHash] = &State{Status: StatusError, Error: msg}
}

// Clear discards the state entirely, as if indexing never ran.
func (r *Registry) Clear(bookHash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, bookHash)
}

// Snapshot returns a copy of the current state for bookHash, or the
// idle zero value if no entry exists.
func (r *Registry) Snapshot(bookHash string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[bookHash]
	if !ok {
		return State{Status: StatusIdle}
	}
	return *s
}

// IsIndexing reports whether bookHash currently has an in-flight run.
func (r *Registry) IsIndexing(bookHash string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[bookHash]
	return ok && s.Status == StatusIndexing
}
