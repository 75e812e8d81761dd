package output

import (
	"fmt"
	"strings"
	"time"
)

// fence delimits the block of terminal lines.
const fence = "```"

// filler pads the block. It must not be empty: chat renderers collapse
// trailing blank lines inside a fenced block.
const filler = " "

// TimeLayout formats deadlines shown to users.
const TimeLayout = "2006-01-02 15:04:05 MST"

// ExpiresHeader is the status line shown while the session is live: the time
// left as of now, then the deadline itself.
func ExpiresHeader(deadline, now time.Time) string {
	left := max(deadline.Sub(now).Round(time.Second), 0)
	return fmt.Sprintf("Session expires in %s (%s).", left, deadline.Format(TimeLayout))
}

// ExpiredHeader is the status line shown once the output stream has ended.
const ExpiredHeader = "Session expired."

// Render builds the display text: the header, then a fenced block of exactly
// height lines. Missing lines are filled after the content; extra lines keep
// only the most recent height.
func Render(header string, lines []string, height int) string {
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}

	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteByte('\n')
	sb.WriteString(fence)
	sb.WriteByte('\n')
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	for i := 0; i < height-len(lines); i++ {
		sb.WriteString(filler)
		sb.WriteByte('\n')
	}
	sb.WriteString(fence)
	return sb.String()
}

// BlockLines extracts the lines between the fences of a rendered frame.
func BlockLines(text string) []string {
	_, rest, ok := strings.Cut(text, fence+"\n")
	if !ok {
		return nil
	}
	body, _, _ := strings.Cut(rest, fence)
	body = strings.TrimSuffix(body, "\n")
	if body == "" {
		return []string{}
	}
	return strings.Split(body, "\n")
}
