package process

import (
	"context"
	"errors"
	"fmt"
	osexec "os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/Maiori44/tmatebot/exec"
	"github.com/Maiori44/tmatebot/logger"
)

// Process is a running copy of the sharing binary found on the system.
type Process struct {
	PID     int
	Command string
}

// CommandLine joins binary and args the way pgrep -f sees them.
func CommandLine(binary string, args []string) string {
	return strings.TrimSpace(binary + " " + strings.Join(args, " "))
}

// Find lists processes whose full command line starts with cmdLine.
// Only Linux and macOS are supported; elsewhere it returns nothing.
func Find(ctx context.Context, cmdLine string) ([]Process, error) {
	switch runtime.GOOS {
	case "darwin", "linux":
	default:
		return nil, nil
	}

	executor := exec.GetDefaultExecutor()
	output, err := executor.Output(ctx, "pgrep", "-f", "^"+cmdLine)
	if err != nil {
		// pgrep exits 1 when nothing matches
		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}

	var found []Process
	for _, field := range strings.Fields(string(output)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		args, err := executor.Output(ctx, "ps", "-p", field, "-o", "args=")
		if err != nil {
			// exited between pgrep and ps
			continue
		}
		found = append(found, Process{PID: pid, Command: strings.TrimSpace(string(args))})
	}

	logger.WithComponent("process").Debug("found sharing processes", "count", len(found), "cmdline", cmdLine)
	return found, nil
}

// FindOrphaned returns the processes matching cmdLine whose pid is not owned.
func FindOrphaned(ctx context.Context, cmdLine string, owned map[int]bool) ([]Process, error) {
	all, err := Find(ctx, cmdLine)
	if err != nil {
		return nil, err
	}
	var orphans []Process
	for _, p := range all {
		if !owned[p.PID] {
			orphans = append(orphans, p)
		}
	}
	return orphans, nil
}

// KillProcess sends SIGKILL to pid.
func KillProcess(ctx context.Context, pid int) error {
	_, stderr, err := exec.GetDefaultExecutor().Run(ctx, "kill", "-9", strconv.Itoa(pid))
	if err != nil {
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			return fmt.Errorf("kill %d: %s: %w", pid, msg, err)
		}
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	return nil
}
