package services

// File: internal/services/handle.go
// Purpose: In-process run state machine observable by callers.

import (
	"sync"
	"time"
)

// State is a stage of a run's lifecycle.
type State string

const (
	StateSubmitted      State = "submitted"
	StateValidated      State = "validated"
	StatePlanned        State = "planned"
	StateExecuting      State = "executing"
	StateIngested       State = "ingested"
	StatePersisted      State = "persisted"
	StateResponded      State = "responded"
	StateAnalyzing      State = "analyzing"
	StateAnalyzed       State = "analyzed"
	StateAnalysisFailed State = "analysis_failed"
	StateFailed         State = "failed"
)

// StateView is the JSON shape of a handle.
type StateView struct {
	RunID     string    `json:"run_id"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Handle tracks one run through the pipeline. Done is closed once no further
// transitions are expected: after a foreground failure or when the background
// stage has settled.
type Handle struct {
	runID string

	mu      sync.RWMutex
	state   State
	err     error
	updated time.Time
	done    chan struct{}
	settled bool
}

func newHandle(runID string, st State) *Handle {
	return &Handle{runID: runID, state: st, updated: time.Now().UTC(), done: make(chan struct{})}
}

// RunID returns the run this handle tracks.
func (h *Handle) RunID() string { return h.runID }

// State returns the current stage.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Err returns the failure that settled the handle, if any.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Done is closed when the handle settles.
func (h *Handle) Done() <-chan struct{} { return h.done }

// View snapshots the handle for the API.
func (h *Handle) View() StateView {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v := StateView{RunID: h.runID, State: h.state, UpdatedAt: h.updated}
	if h.err != nil {
		v.Error = h.err.Error()
	}
	return v
}

func (h *Handle) set(st State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = st
	h.updated = time.Now().UTC()
}

func (h *Handle) settle(st State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = st
	h.err = err
	h.updated = time.Now().UTC()
	if !h.settled {
		h.settled = true
		close(h.done)
	}
}

// busy reports whether the run is still in the foreground or analyzing.
func (h *Handle) busy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.settled
}

func (h *Handle) settledBefore(t time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settled && h.updated.Before(t)
}

type handleSet struct {
	mu sync.Mutex
	m  map[string]*Handle
}

func newHandleSet() *handleSet {
	return &handleSet{m: make(map[string]*Handle)}
}

func (s *handleSet) put(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[h.runID] = h
}

func (s *handleSet) get(runID string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.m[runID]
	return h, ok
}

func (s *handleSet) remove(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, runID)
}

// claim installs h unless a busy handle already exists for the run.
func (s *handleSet) claim(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[h.runID]; ok && cur.busy() {
		return false
	}
	s.m[h.runID] = h
	return true
}

func (s *handleSet) prune(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, h := range s.m {
		if h.settledBefore(before) {
			delete(s.m, id)
			n++
		}
	}
	return n
}
