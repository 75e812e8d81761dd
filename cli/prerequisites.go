// Package cli checks that the tools tmatebot shells out to are installed.
package cli

import (
	"context"
	"fmt"
	osexec "os/exec"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Maiori44/tmatebot/exec"
)

// Prerequisite represents a required CLI tool
type Prerequisite struct {
	Name        string   // Command name (e.g., "tmate", "pgrep")
	Required    bool     // Whether the tool is required to run the bot
	Description string   // Human-readable description
	InstallURL  string   // URL for installation instructions
	VersionArgs []string // Arguments that print the version, tried in order
}

// DefaultPrerequisites returns the tools tmatebot uses. binary replaces the
// tmate name when the config points somewhere else.
func DefaultPrerequisites(binary string) []Prerequisite {
	if binary == "" {
		binary = "tmate"
	}
	return []Prerequisite{
		{
			Name:        binary,
			Required:    true,
			Description: "tmate terminal sharing",
			InstallURL:  "https://tmate.io",
			VersionArgs: []string{"-V"},
		},
		{
			Name:        "pgrep",
			Required:    false, // only needed to reap orphaned sessions
			Description: "procps pgrep (optional, for orphan cleanup)",
			InstallURL:  "https://gitlab.com/procps-ng/procps",
			VersionArgs: []string{"-V"},
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	Error        error
}

// lookPath is swapped in tests.
var lookPath = osexec.LookPath

// Check verifies that a CLI tool is available in PATH
func Check(ctx context.Context, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := lookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = getVersion(ctx, prereq)
	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(ctx context.Context, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(ctx, prereq)
	}
	return results
}

// ValidateRequired checks that all required prerequisites are met
// Returns nil if all required tools are found, otherwise returns an error
// describing what's missing
func ValidateRequired(ctx context.Context, prereqs []Prerequisite) error {
	var missing []string

	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		result := Check(ctx, prereq)
		if !result.Found {
			missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
				prereq.Name, prereq.Description, prereq.InstallURL))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}

	return nil
}

// getVersion returns the first line a version flag prints. tmate prints its
// version on stdout, procps tools on stdout too, so stderr is ignored.
func getVersion(ctx context.Context, prereq Prerequisite) string {
	executor := exec.GetDefaultExecutor()
	for _, flag := range prereq.VersionArgs {
		output, err := executor.Output(ctx, prereq.Name, flag)
		if err != nil {
			continue
		}
		first, _, _ := strings.Cut(string(output), "\n")
		version := strings.TrimSpace(first)
		if version == "" {
			continue
		}
		// Limit length to avoid overly long version strings
		if len(version) > 100 {
			version = version[:100] + "..."
		}
		return version
	}
	return ""
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	foundStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("76"))  // green
	missingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // bright red
	optionalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242")) // gray
)

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("CLI Prerequisites:"))
	sb.WriteString("\n")
	for _, r := range results {
		var status string
		switch {
		case r.Found:
			status = foundStyle.Render("✓")
		case r.Prerequisite.Required:
			status = missingStyle.Render("✗")
		default:
			status = optionalStyle.Render("○")
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Prerequisite.Name)
		if r.Found && r.Version != "" {
			sb.WriteString(mutedStyle.Render(fmt.Sprintf(" (%s)", r.Version)))
		} else if !r.Found {
			if r.Prerequisite.Required {
				sb.WriteString(missingStyle.Render(" [REQUIRED]"))
			} else {
				sb.WriteString(optionalStyle.Render(" [optional]"))
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
