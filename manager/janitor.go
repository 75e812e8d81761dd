package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Maiori44/tmatebot/logger"
	"github.com/Maiori44/tmatebot/process"
)

const (
	// DefaultJanitorSchedule runs a sweep every minute.
	DefaultJanitorSchedule = "@every 1m"

	// DefaultOverdueGrace is how long past its deadline a session may stay
	// registered before the janitor closes it.
	DefaultOverdueGrace = time.Minute

	// DefaultSurfaceRetention is how long a surface without a session keeps
	// its last frame.
	DefaultSurfaceRetention = time.Hour
)

// SurfacePruner drops display surfaces. display.Hub implements it.
type SurfacePruner interface {
	// Prune discards surfaces last updated before cutoff that are not live.
	Prune(cutoff time.Time, live func(id string) bool) []string
}

// JanitorOptions configures a Janitor.
type JanitorOptions struct {
	Schedule     string        // cron spec or @every descriptor
	OverdueGrace time.Duration // DefaultOverdueGrace if zero

	// ReapOrphans enables killing sharing processes no session owns.
	ReapOrphans bool
	// CommandLine is what orphaned processes are matched by.
	CommandLine string

	// Surfaces, when set, has its sessionless surfaces pruned after
	// SurfaceRetention (DefaultSurfaceRetention if zero).
	Surfaces         SurfacePruner
	SurfaceRetention time.Duration
}

// SweepResult is what one sweep did.
type SweepResult struct {
	Overdue Report   // sessions closed for outliving their deadline
	Killed  []int    // orphaned pids killed
	Pruned  []string // surfaces discarded
}

// Janitor periodically closes overdue sessions and, optionally, kills
// sharing processes left behind by an earlier run.
type Janitor struct {
	manager *Manager
	opts    JanitorOptions
	cron    *cron.Cron
	log     *slog.Logger
	now     func() time.Time

	mu sync.Mutex
	// suspects are unowned pids seen by the previous sweep. A pid is only
	// killed when it is unowned in two sweeps in a row, so a process that
	// is still being registered is never taken for an orphan.
	suspects map[int]bool
}

// NewJanitor returns a janitor for m. It does nothing until Start.
func NewJanitor(m *Manager, opts JanitorOptions) (*Janitor, error) {
	if opts.Schedule == "" {
		opts.Schedule = DefaultJanitorSchedule
	}
	if opts.OverdueGrace <= 0 {
		opts.OverdueGrace = DefaultOverdueGrace
	}
	if opts.SurfaceRetention <= 0 {
		opts.SurfaceRetention = DefaultSurfaceRetention
	}
	if opts.CommandLine == "" {
		opts.CommandLine = process.CommandLine(process.DefaultBinary, process.DefaultArgs)
	}

	j := &Janitor{
		manager:  m,
		opts:     opts,
		log:      logger.WithComponent("janitor"),
		now:      time.Now,
		suspects: make(map[int]bool),
	}
	j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := j.cron.AddFunc(opts.Schedule, func() { j.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", opts.Schedule, err)
	}
	return j, nil
}

// Start begins running sweeps on the schedule.
func (j *Janitor) Start() {
	j.log.Info("janitor started", "schedule", j.opts.Schedule, "reap_orphans", j.opts.ReapOrphans)
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep runs one pass immediately.
func (j *Janitor) Sweep(ctx context.Context) SweepResult {
	var result SweepResult

	var overdue []string
	cutoff := j.now().Add(-j.opts.OverdueGrace)
	for _, s := range j.manager.Registry().Sessions() {
		if s.Deadline().Before(cutoff) {
			overdue = append(overdue, s.ID())
		}
	}
	if len(overdue) > 0 {
		j.log.Warn("closing sessions past their deadline", "count", len(overdue))
		result.Overdue = j.manager.Gatekeep(ctx, overdue)
	}

	if j.opts.ReapOrphans {
		result.Killed = j.reap(ctx)
	}

	if j.opts.Surfaces != nil {
		registry := j.manager.Registry()
		result.Pruned = j.opts.Surfaces.Prune(j.now().Add(-j.opts.SurfaceRetention), func(id string) bool {
			return registry.Has(id)
		})
		if len(result.Pruned) > 0 {
			j.log.Info("discarded stale surfaces", "count", len(result.Pruned))
		}
	}
	return result
}

func (j *Janitor) reap(ctx context.Context) []int {
	orphans, err := process.FindOrphaned(ctx, j.opts.CommandLine, j.manager.Registry().Pids())
	if err != nil {
		j.log.Error("failed to list sharing processes", "error", err)
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	var killed []int
	next := make(map[int]bool)
	for _, p := range orphans {
		if !j.suspects[p.PID] {
			next[p.PID] = true
			continue
		}
		if err := process.KillProcess(ctx, p.PID); err != nil {
			j.log.Error("failed to kill orphaned process", "pid", p.PID, "error", err)
			continue
		}
		j.log.Info("killed orphaned process", "pid", p.PID, "command", p.Command)
		killed = append(killed, p.PID)
	}
	j.suspects = next
	return killed
}
