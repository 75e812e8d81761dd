// Package output turns the raw byte stream of a terminal-sharing process into
// the fixed-height text block shown on a session's display surface.
//
// A Buffer keeps the last N logical lines. Reads arrive in arbitrary chunks,
// so a line may be split across several of them (even in the middle of a
// multi-byte character); the unfinished flag makes the next chunk extend the
// last line instead of starting a new one. Lines are stored as raw bytes and
// only decoded when read back, which keeps split characters intact.
package output

import (
	"bytes"
	"strings"
)

// DefaultLines is the window height used when none is configured.
const DefaultLines = 16

// ClosedLine is appended when the process output stream ends.
const ClosedLine = "Session closed"

// Buffer is a fixed-capacity window over the most recent logical lines.
// It is not safe for concurrent use; each session's reader owns one.
type Buffer struct {
	ring       [][]byte
	start      int
	count      int
	unfinished bool
}

// NewBuffer returns a buffer holding at most n lines.
// If n <= 0, DefaultLines is used.
func NewBuffer(n int) *Buffer {
	if n <= 0 {
		n = DefaultLines
	}
	return &Buffer{ring: make([][]byte, n)}
}

// Cap returns the window height.
func (b *Buffer) Cap() int {
	return len(b.ring)
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	return b.count
}

// Unfinished reports whether the last line is still waiting for its line break.
func (b *Buffer) Unfinished() bool {
	return b.unfinished
}

// Write feeds one chunk of process output into the buffer.
// An empty chunk is ignored; end of stream is signaled with Close.
func (b *Buffer) Write(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	terminated := chunk[len(chunk)-1] == '\n'
	parts := bytes.Split(chunk, []byte{'\n'})
	if terminated {
		// Split yields an empty fragment after the final break.
		parts = parts[:len(parts)-1]
	}

	for i, part := range parts {
		if i == 0 && b.unfinished && b.count > 0 {
			b.appendLast(part)
			continue
		}
		b.push(part)
	}
	b.unfinished = !terminated
}

// Close records the end of the stream as a final synthetic line.
func (b *Buffer) Close() {
	b.push([]byte(ClosedLine))
	b.unfinished = false
}

// Lines returns the buffered lines, oldest first. Invalid UTF-8 is dropped and
// a trailing carriage return is trimmed from each line.
func (b *Buffer) Lines() []string {
	lines := make([]string, 0, b.count)
	for i := 0; i < b.count; i++ {
		raw := b.ring[(b.start+i)%len(b.ring)]
		line := strings.ToValidUTF8(string(raw), "")
		lines = append(lines, strings.TrimSuffix(line, "\r"))
	}
	return lines
}

func (b *Buffer) push(line []byte) {
	owned := append([]byte(nil), line...)
	if b.count < len(b.ring) {
		b.ring[(b.start+b.count)%len(b.ring)] = owned
		b.count++
		return
	}
	// Full: overwrite the oldest slot and advance the start.
	b.ring[b.start] = owned
	b.start = (b.start + 1) % len(b.ring)
}

func (b *Buffer) appendLast(fragment []byte) {
	last := (b.start + b.count - 1) % len(b.ring)
	b.ring[last] = append(b.ring[last], fragment...)
}
