// Package process launches the terminal-sharing binary and finds copies of it
// that outlived the bot.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// DefaultBinary and DefaultArgs run tmate in the foreground so its status
// messages go to the output pipe instead of a detached server.
const DefaultBinary = "tmate"

// DefaultArgs are passed to DefaultBinary.
var DefaultArgs = []string{"-F"}

// Handle is exclusive ownership of one spawned child process.
type Handle interface {
	// Output is the read end of the pipe carrying merged stdout and stderr.
	Output() io.ReadCloser

	// Kill terminates the process. Killing a process that already exited
	// is not an error.
	Kill() error

	// Wait blocks until the process has exited and returns its exit error.
	// It may be called any number of times.
	Wait() error

	// Pid returns the OS process id.
	Pid() int
}

// Spawner starts new child processes. The process is killed when ctx is
// cancelled, so a handle that is dropped without Kill does not leak.
type Spawner interface {
	Spawn(ctx context.Context) (Handle, error)
}

// ExecSpawner runs Binary with Args, stdin from the null device and both
// output streams on a single OS pipe.
type ExecSpawner struct {
	Binary string
	Args   []string
	Env    []string // appended to the parent's environment
}

// NewExecSpawner returns a spawner for binary, falling back to DefaultBinary.
func NewExecSpawner(binary string, args ...string) *ExecSpawner {
	if binary == "" {
		binary = DefaultBinary
		if len(args) == 0 {
			args = DefaultArgs
		}
	}
	return &ExecSpawner{Binary: binary, Args: args}
}

// Spawn starts the process.
func (s *ExecSpawner) Spawn(ctx context.Context) (Handle, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.Binary, s.Args...)
	cmd.Stdout = w
	cmd.Stderr = w
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("start %s: %w", s.Binary, err)
	}
	// The child holds its own copy of the write end; ours must go so the
	// reader sees EOF once the child exits.
	w.Close()

	h := &execHandle{
		cmd:      cmd,
		out:      r,
		waitDone: make(chan struct{}),
	}
	go h.monitorExit()
	return h, nil
}

type execHandle struct {
	cmd *exec.Cmd
	out *os.File

	// waitDone is closed by monitorExit, the only caller of cmd.Wait.
	waitDone chan struct{}
	waitErr  error

	killOnce sync.Once
	killErr  error
}

func (h *execHandle) monitorExit() {
	h.waitErr = h.cmd.Wait()
	close(h.waitDone)
}

func (h *execHandle) Output() io.ReadCloser { return h.out }

func (h *execHandle) Pid() int { return h.cmd.Process.Pid }

func (h *execHandle) Kill() error {
	h.killOnce.Do(func() {
		select {
		case <-h.waitDone:
			return
		default:
		}
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.killErr = fmt.Errorf("kill pid %d: %w", h.cmd.Process.Pid, err)
		}
	})
	return h.killErr
}

func (h *execHandle) Wait() error {
	<-h.waitDone
	return h.waitErr
}
