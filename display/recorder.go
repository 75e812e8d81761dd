package display

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Recorder is an in-memory Sink that keeps every call. It is meant for tests
// and for running the supervisor without a chat backend.
type Recorder struct {
	mu      sync.Mutex
	renders map[string][]string
	actions map[string][]Action
	changed chan struct{}
	calls   int

	// failures makes the next n calls return err.
	failures int
	err      error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		renders: make(map[string][]string),
		actions: make(map[string][]Action),
		changed: make(chan struct{}),
	}
}

// FailNext makes the next n Render or SetAction calls fail with err.
func (r *Recorder) FailNext(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = n
	r.err = err
}

func (r *Recorder) Render(_ context.Context, id, text string) error {
	return r.record(func() { r.renders[id] = append(r.renders[id], text) })
}

func (r *Recorder) SetAction(_ context.Context, id string, action Action) error {
	return r.record(func() { r.actions[id] = append(r.actions[id], action) })
}

func (r *Recorder) record(apply func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	defer func() {
		close(r.changed)
		r.changed = make(chan struct{})
	}()

	r.calls++
	if r.failures > 0 {
		r.failures--
		return r.err
	}
	apply()
	return nil
}

// Calls returns how many Render and SetAction calls were made, failed ones
// included.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Renders returns every text rendered to id, oldest first.
func (r *Recorder) Renders(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.renders[id])
}

// Last returns the most recent text rendered to id.
func (r *Recorder) Last(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	texts := r.renders[id]
	if len(texts) == 0 {
		return "", false
	}
	return texts[len(texts)-1], true
}

// Actions returns every action set on id, oldest first.
func (r *Recorder) Actions(id string) []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.actions[id])
}

// WaitFor blocks until cond holds or timeout elapses. cond is re-evaluated
// after every recorded call.
func (r *Recorder) WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		changed := r.changed
		r.mu.Unlock()

		if cond() {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return cond()
		}
	}
}

var _ Sink = (*Recorder)(nil)
