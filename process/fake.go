package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Fake is an in-process stand-in for a spawned child. Its output is a real
// OS pipe, so readers see the same blocking and EOF behaviour as with exec.
type Fake struct {
	r, w *os.File
	pid  int

	// holdOpen keeps the write end open after exit, like a grandchild that
	// inherited the pipe.
	holdOpen bool

	mu     sync.Mutex
	kills  int
	exited chan struct{}
	once   sync.Once
}

// NewFake returns a running fake process with the given pid.
func NewFake(pid int) (*Fake, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	return &Fake{r: r, w: w, pid: pid, exited: make(chan struct{})}, nil
}

func (f *Fake) Output() io.ReadCloser { return f.r }

func (f *Fake) Pid() int { return f.pid }

// Print writes s to the output pipe.
func (f *Fake) Print(s string) error {
	_, err := io.WriteString(f.w, s)
	return err
}

// Exit ends the process. The output pipe reaches EOF unless it is held open.
func (f *Fake) Exit() {
	f.once.Do(func() {
		close(f.exited)
		if !f.holdOpen {
			f.w.Close()
		}
	})
}

// Release closes a write end that was held open past exit.
func (f *Fake) Release() {
	f.w.Close()
}

func (f *Fake) Kill() error {
	f.mu.Lock()
	f.kills++
	f.mu.Unlock()
	f.Exit()
	return nil
}

// Kills returns how many times Kill was called.
func (f *Fake) Kills() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kills
}

// Exited reports whether the process has ended.
func (f *Fake) Exited() bool {
	select {
	case <-f.exited:
		return true
	default:
		return false
	}
}

func (f *Fake) Wait() error {
	<-f.exited
	return nil
}

// FakeSpawner hands out Fake processes and remembers them.
type FakeSpawner struct {
	// Err, when set, makes every Spawn fail.
	Err error

	// HoldOpen makes spawned fakes keep their output open after exit.
	HoldOpen bool

	mu      sync.Mutex
	spawned []*Fake
}

func (s *FakeSpawner) Spawn(ctx context.Context) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	f, err := NewFake(1000 + len(s.spawned))
	if err != nil {
		return nil, err
	}
	f.holdOpen = s.HoldOpen
	s.spawned = append(s.spawned, f)

	// same kill-on-cancel contract as ExecSpawner
	go func() {
		select {
		case <-ctx.Done():
			f.Exit()
		case <-f.exited:
		}
	}()
	return f, nil
}

// Spawned returns every fake handed out so far, oldest first.
func (s *FakeSpawner) Spawned() []*Fake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Fake(nil), s.spawned...)
}

// Last returns the most recently spawned fake, or nil.
func (s *FakeSpawner) Last() *Fake {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.spawned) == 0 {
		return nil
	}
	return s.spawned[len(s.spawned)-1]
}

var (
	_ Handle  = (*Fake)(nil)
	_ Spawner = (*FakeSpawner)(nil)
)
