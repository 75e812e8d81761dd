// Package manager supervises the set of running sessions: creation, expiry
// teardown, explicit and bulk close, and shutdown.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Maiori44/tmatebot/display"
	"github.com/Maiori44/tmatebot/logger"
	"github.com/Maiori44/tmatebot/output"
	"github.com/Maiori44/tmatebot/process"
	"github.com/Maiori44/tmatebot/session"
)

// DefaultCloseTimeout bounds a teardown started by an expiring session.
const DefaultCloseTimeout = 30 * time.Second

// ErrShuttingDown is returned by Start once Shutdown has begun.
var ErrShuttingDown = errors.New("session manager is shutting down")

// Options configures the sessions a Manager creates.
type Options struct {
	Spawner process.Spawner
	Sink    display.Sink

	Lines      int
	ChunkSize  int
	Detector   output.Detector
	CloseGrace time.Duration

	// CloseTimeout bounds teardowns the manager starts on its own.
	CloseTimeout time.Duration
}

// Manager owns a Registry and performs every teardown of its sessions.
type Manager struct {
	registry *Registry
	opts     Options
	log      *slog.Logger

	mu       sync.Mutex // protects stopping and wg.Add
	stopping bool
	wg       sync.WaitGroup // in-flight expiry teardowns
}

// New returns a manager over registry. A nil registry gets a fresh one.
func New(registry *Registry, opts Options) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.Spawner == nil {
		opts.Spawner = process.NewExecSpawner("")
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	return &Manager{
		registry: registry,
		opts:     opts,
		log:      logger.WithComponent("manager"),
	}
}

// Registry returns the registry the manager works on.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start spawns a session rendering to surface id and registers it.
func (m *Manager) Start(ctx context.Context, id, creator string, deadline time.Time) (*session.Session, error) {
	m.mu.Lock()
	stopping := m.stopping
	m.mu.Unlock()
	if stopping {
		return nil, ErrShuttingDown
	}

	s, err := m.registry.Create(id, func() (*session.Session, error) {
		var sess *session.Session
		cfg := session.Config{
			ID:         id,
			Creator:    creator,
			CreatedAt:  time.Now(),
			Deadline:   deadline,
			Lines:      m.opts.Lines,
			ChunkSize:  m.opts.ChunkSize,
			Detector:   m.opts.Detector,
			CloseGrace: m.opts.CloseGrace,
			Sink:       m.opts.Sink,
			// sess is assigned before the registry starts the reader
			OnExpire: func(id string) { m.expire(id, sess) },
		}
		var err error
		sess, err = session.New(ctx, cfg, m.opts.Spawner)
		return sess, err
	})
	if err != nil {
		m.log.Error("failed to start session", "session", id, "creator", creator, "error", err)
		return nil, err
	}

	m.mu.Lock()
	stopping = m.stopping
	m.mu.Unlock()
	if stopping {
		// raced with Shutdown's sweep
		m.Close(ctx, id)
		return nil, ErrShuttingDown
	}
	m.log.Info("session started", "session", id, "creator", creator, "deadline", deadline)
	return s, nil
}

// expire hands the teardown of s to a tracked goroutine.
func (m *Manager) expire(id string, s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping {
		// Shutdown closes everything still registered.
		return
	}
	m.wg.Add(1)
	go m.teardown(id, s)
}

func (m *Manager) teardown(id string, s *session.Session) {
	defer m.wg.Done()

	// Whoever removes the entry closes it. Losing here means an explicit
	// close or a newer session on the same id got there first.
	if !m.registry.removeSession(id, s) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.CloseTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		m.log.Error("failed to close expired session", "session", id, "error", err)
		return
	}
	m.log.Info("expired session closed", "session", id)
}

// Close removes the session under id and tears it down.
func (m *Manager) Close(ctx context.Context, id string) error {
	s := m.registry.Remove(id)
	if s == nil {
		return ErrNotFound
	}
	if err := s.Close(ctx); err != nil {
		m.log.Error("failed to close session", "session", id, "error", err)
		return err
	}
	return nil
}

// Outcome is the result of closing one id.
type Outcome struct {
	ID  string
	Err error
}

// Report lists the outcome for every id given to Gatekeep, in input order.
type Report []Outcome

// String renders one line per id.
func (r Report) String() string {
	var sb strings.Builder
	for _, o := range r {
		if o.Err == nil {
			fmt.Fprintf(&sb, "**`%s`** was closed successfully.\n", o.ID)
		} else {
			fmt.Fprintf(&sb, "**`%s`** could not be closed: %v.\n", o.ID, o.Err)
		}
	}
	return sb.String()
}

// Failed returns how many ids could not be closed.
func (r Report) Failed() int {
	n := 0
	for _, o := range r {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Gatekeep closes every id in order and reports each outcome. A failure on
// one id never stops the rest.
func (m *Manager) Gatekeep(ctx context.Context, ids []string) Report {
	report := make(Report, 0, len(ids))
	for _, id := range ids {
		report = append(report, Outcome{ID: id, Err: m.Close(ctx, id)})
	}
	m.log.Info("gatekeep finished", "requested", len(ids), "failed", report.Failed())
	return report
}

// CloseAll gatekeeps every live session.
func (m *Manager) CloseAll(ctx context.Context) Report {
	return m.Gatekeep(ctx, m.registry.IDs())
}

// Shutdown refuses new sessions, closes all live ones and waits for
// in-flight expiry teardowns.
func (m *Manager) Shutdown(ctx context.Context) Report {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()

	report := m.CloseAll(ctx)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn("shutdown timed out waiting for expiring sessions", "error", ctx.Err())
	}
	return report
}
