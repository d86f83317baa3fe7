package runner

import (
	"strings"
)

// LogBuffer accumulates job log lines with FIFO truncation: once the line
// count exceeds the maximum, the oldest lines are dropped so the most
// recent entries are always preserved.
type LogBuffer struct {
	lines []string
	max   int
}

// NewLogBuffer creates a buffer bounded to max lines.
func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{max: max}
}

// Seed loads previously persisted log text into the buffer.
func (b *LogBuffer) Seed(text string) {
	if text == "" {
		return
	}
	b.lines = append(b.lines, strings.Split(text, "\n")...)
	b.trim()
}

// Append adds one entry. Multi-line text counts one buffer line per line.
func (b *LogBuffer) Append(text string) {
	if text == "" {
		return
	}
	b.lines = append(b.lines, strings.Split(strings.TrimRight(text, "\n"), "\n")...)
	b.trim()
}

// Len returns the current number of buffered lines.
func (b *LogBuffer) Len() int {
	return len(b.lines)
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *LogBuffer) Lines() []string {
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// String renders the buffer as newline-joined text for persistence.
func (b *LogBuffer) String() string {
	return strings.Join(b.lines, "\n")
}

func (b *LogBuffer) trim() {
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}
