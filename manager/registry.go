package manager

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Maiori44/tmatebot/session"
)

var (
	// ErrAlreadyExists is returned when creating a session on an id that is
	// live or still being spawned.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrNotFound is returned when closing an id that is not registered.
	ErrNotFound = errors.New("connection not found")
)

// Factory builds the session to insert. It runs without the registry lock.
type Factory func() (*session.Session, error)

// Registry holds the running sessions keyed by surface id.
//
// It is the only writer of its map: ids are inserted by Create and removed by
// Remove. A nil value is a reservation for a session whose process is still
// being spawned.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// Create reserves id, runs factory and, on success, inserts the session and
// starts its reader. The reservation is dropped if factory fails.
func (r *Registry) Create(id string, factory Factory) (*session.Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	r.sessions[id] = nil
	r.mu.Unlock()

	s, err := factory()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		delete(r.sessions, id)
		return nil, err
	}
	r.sessions[id] = s
	// Start only launches goroutines, so holding the lock here is fine. It
	// guarantees the reader never runs before the session is findable.
	s.Start()
	return s, nil
}

// Remove detaches the session registered under id and returns it, or nil if
// there is none. Reservations are left alone.
func (r *Registry) Remove(id string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	if s != nil {
		delete(r.sessions, id)
	}
	return s
}

// removeSession removes id only if it still maps to s.
func (r *Registry) removeSession(id string, s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == nil || r.sessions[id] != s {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Get returns the session registered under id, or nil.
func (r *Registry) Get(id string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Sessions returns the live sessions ordered by creation time, then id.
func (r *Registry) Sessions() []*session.Session {
	r.mu.Lock()
	live := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != nil {
			live = append(live, s)
		}
	}
	r.mu.Unlock()

	slices.SortFunc(live, func(a, b *session.Session) int {
		if c := a.Info().CreatedAt.Compare(b.Info().CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
	return live
}

// Snapshot returns metadata copies of the live sessions in Sessions order.
func (r *Registry) Snapshot() []session.Info {
	live := r.Sessions()
	infos := make([]session.Info, len(live))
	for i, s := range live {
		infos[i] = s.Info()
	}
	return infos
}

// IDs returns the ids of the live sessions in Sessions order.
func (r *Registry) IDs() []string {
	live := r.Sessions()
	ids := make([]string, len(live))
	for i, s := range live {
		ids[i] = s.ID()
	}
	return ids
}

// Pids returns the process ids owned by live sessions.
func (r *Registry) Pids() map[int]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pids := make(map[int]bool, len(r.sessions))
	for _, s := range r.sessions {
		if s != nil {
			pids[s.Pid()] = true
		}
	}
	return pids
}

// Has reports whether id is registered or reserved.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s != nil {
			n++
		}
	}
	return n
}

// IsEmpty reports whether no session is live.
func (r *Registry) IsEmpty() bool {
	return r.Len() == 0
}
