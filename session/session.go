package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Maiori44/tmatebot/display"
	"github.com/Maiori44/tmatebot/logger"
	"github.com/Maiori44/tmatebot/output"
	"github.com/Maiori44/tmatebot/process"
)

const (
	// DefaultChunkSize is how many bytes the reader asks for per read.
	DefaultChunkSize = 128

	// DefaultCloseGrace is how long Close waits for the reader to see EOF
	// after the kill before it closes the pipe from this side.
	DefaultCloseGrace = 2 * time.Second
)

var (
	// ErrSpawn wraps failures to start the process or wire its output.
	ErrSpawn = errors.New("failed to spawn session process")

	// ErrTeardown wraps failures to kill the process or join the reader.
	ErrTeardown = errors.New("failed to tear down session")
)

// State is the lifecycle stage of a session.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateExpiring
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExpiring:
		return "expiring"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config describes a session to be spawned.
type Config struct {
	// ID is the display surface the session renders to. It doubles as the
	// session's identity in the registry.
	ID        string
	Creator   string
	CreatedAt time.Time
	Deadline  time.Time

	Lines      int             // visible lines, output.DefaultLines if zero
	ChunkSize  int             // DefaultChunkSize if zero
	Detector   output.Detector // output.ClientsGone if nil
	CloseGrace time.Duration   // DefaultCloseGrace if zero

	Sink display.Sink

	// OnExpire asks the owner to remove and close the session. It is called
	// from the reader at most once per session and must not block: Close
	// joins the reader, so the owner has to close from another goroutine.
	// When nil the session kills its own process instead.
	OnExpire func(id string)
}

// Info is a read-only snapshot of a session's metadata.
type Info struct {
	ID        string    `json:"id"`
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
	State     string    `json:"state"`
	Pid       int       `json:"pid"`
}

// readResult is one chunk from the output pipe. A non-nil err ends the stream.
type readResult struct {
	data []byte
	err  error
}

// Session is one supervised terminal-sharing process.
type Session struct {
	cfg    Config
	log    *slog.Logger
	handle process.Handle
	buf    *output.Buffer

	// ctx is owned by the session; cancelling it kills the process.
	ctx    context.Context
	cancel context.CancelFunc

	state   atomic.Int32
	closing atomic.Bool

	startOnce  sync.Once
	expireOnce sync.Once
	done       chan struct{} // closed when the reader exits
	renderErr  error         // last sink failure of the final frames, set before done

	closeOnce sync.Once
	closeErr  error
}

// New spawns the process for cfg. The reader does not run until Start.
func New(ctx context.Context, cfg Config, spawner process.Spawner) (*Session, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: no display sink", ErrSpawn)
	}
	if cfg.Lines <= 0 {
		cfg.Lines = output.DefaultLines
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Detector == nil {
		cfg.Detector = output.ClientsGone
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = DefaultCloseGrace
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}

	// The process outlives the request that created it.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	handle, err := spawner.Spawn(sctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	s := &Session{
		cfg:    cfg,
		log:    logger.WithSession(cfg.ID),
		handle: handle,
		buf:    output.NewBuffer(cfg.Lines),
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateStarting))
	s.log.Info("session spawned", "pid", handle.Pid(), "creator", cfg.Creator, "deadline", cfg.Deadline)
	return s, nil
}

// ID returns the session's surface id.
func (s *Session) ID() string { return s.cfg.ID }

// Creator returns who started the session.
func (s *Session) Creator() string { return s.cfg.Creator }

// Deadline returns when the session is force-expired.
func (s *Session) Deadline() time.Time { return s.cfg.Deadline }

// Pid returns the process id of the child.
func (s *Session) Pid() int { return s.handle.Pid() }

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed when the reader has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info returns a snapshot of the session's metadata.
func (s *Session) Info() Info {
	return Info{
		ID:        s.cfg.ID,
		Creator:   s.cfg.Creator,
		CreatedAt: s.cfg.CreatedAt,
		Deadline:  s.cfg.Deadline,
		State:     s.State().String(),
		Pid:       s.handle.Pid(),
	}
}

// Start launches the reader. Calls after the first, or after Close, do nothing.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
		results := make(chan readResult, 1)
		go s.pump(results)
		go s.run(results)
	})
}

// pump reads the output pipe and forwards every chunk. It returns after
// delivering the first error, io.EOF included.
func (s *Session) pump(results chan<- readResult) {
	out := s.handle.Output()
	for {
		chunk := make([]byte, s.cfg.ChunkSize)
		n, err := out.Read(chunk)
		if n > 0 {
			results <- readResult{data: chunk[:n]}
		}
		if err != nil {
			results <- readResult{err: err}
			return
		}
	}
}

func (s *Session) run(results <-chan readResult) {
	defer close(s.done)
	s.log.Debug("output reader started")

	deadline := time.NewTimer(time.Until(s.cfg.Deadline))
	defer deadline.Stop()
	timeout := deadline.C

	var lastErr error
	for {
		eof := false

		select {
		case <-timeout:
			// fires once; afterwards only the kill's EOF ends the loop
			timeout = nil
			if s.expire() {
				s.log.Info("session deadline reached")
			}
		case res := <-results:
			if res.err == nil {
				s.buf.Write(res.data)
				break
			}
			eof = true
			if !errors.Is(res.err, io.EOF) && !s.closing.Load() {
				s.log.Warn("error reading session output", "error", res.err)
			}
			s.buf.Close()
		}

		lines := s.buf.Lines()
		if !eof && s.State() == StateRunning && s.cfg.Detector(lines) {
			if s.expire() {
				s.log.Info("remote side disconnected")
			}
		}

		header := output.ExpiresHeader(s.cfg.Deadline, time.Now())
		if eof {
			header = output.ExpiredHeader
		}
		if err := s.cfg.Sink.Render(s.ctx, s.cfg.ID, output.Render(header, lines, s.cfg.Lines)); err != nil {
			s.log.Warn("failed to render session output", "error", err)
			if eof {
				lastErr = fmt.Errorf("render final frame: %w", err)
			}
		}

		if eof {
			if err := s.cfg.Sink.SetAction(s.ctx, s.cfg.ID, display.CloseAction(true)); err != nil {
				s.log.Warn("failed to disable close action", "error", err)
				lastErr = fmt.Errorf("disable close action: %w", err)
			}
			if !s.closing.Load() {
				// the process went away by itself
				s.requestTeardown()
			}
			s.renderErr = lastErr
			s.log.Debug("output reader exiting")
			return
		}

		if s.State() == StateExpiring {
			s.requestTeardown()
		}
	}
}

// expire moves a running session to expiring and reports whether it did.
func (s *Session) expire() bool {
	return s.state.CompareAndSwap(int32(StateRunning), int32(StateExpiring))
}

func (s *Session) requestTeardown() {
	s.expireOnce.Do(func() {
		if s.cfg.OnExpire != nil {
			s.cfg.OnExpire(s.cfg.ID)
			return
		}
		if err := s.handle.Kill(); err != nil {
			s.log.Error("failed to kill expired session", "error", err)
		}
	})
}

// Close kills the process and joins the reader. ctx bounds the final wait
// for the reader once the pipe has been closed. Every call after the first
// returns the first call's result.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(ctx)
	})
	return s.closeErr
}

func (s *Session) close(ctx context.Context) error {
	s.closing.Store(true)
	defer s.state.Store(int32(StateClosed))
	defer s.cancel()

	// A session that never started has no reader to join.
	s.startOnce.Do(func() { close(s.done) })

	var errs []error
	if err := s.handle.Kill(); err != nil {
		errs = append(errs, err)
	}

	joined := true
	grace := time.NewTimer(s.cfg.CloseGrace)
	defer grace.Stop()
	select {
	case <-s.done:
	case <-grace.C:
		// Something else still holds the write end of the pipe.
		s.log.Warn("reader still running after kill, closing output pipe")
		s.handle.Output().Close()
		select {
		case <-s.done:
		case <-ctx.Done():
			joined = false
			errs = append(errs, fmt.Errorf("join reader: %w", ctx.Err()))
		}
	}
	s.handle.Output().Close()

	var err error
	if len(errs) > 0 {
		err = fmt.Errorf("%w: %w", ErrTeardown, errors.Join(errs...))
		s.log.Error("session teardown failed", "error", err)
	}
	if joined && s.renderErr != nil {
		err = errors.Join(err, s.renderErr)
	}
	if err == nil {
		s.log.Info("session closed")
	}
	return err
}
