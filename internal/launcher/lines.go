package launcher

import (
	"bytes"
	"strings"
)

// maxPendingLine bounds the unterminated tail kept per child. A tail longer
// than this is emitted as a line of its own.
const maxPendingLine = 64 << 10

// lineBuffer reassembles lines across non-blocking reads.
type lineBuffer struct {
	pending []byte
}

// Write appends p and returns every complete, non-blank line.
func (b *lineBuffer) Write(p []byte) []string {
	b.pending = append(b.pending, p...)
	var lines []string
	for {
		idx := bytes.IndexByte(b.pending, '\n')
		if idx < 0 {
			break
		}
		lines = appendLine(lines, b.pending[:idx])
		b.pending = b.pending[idx+1:]
	}
	if len(b.pending) > maxPendingLine {
		lines = appendLine(lines, b.pending)
		b.pending = nil
	}
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return lines
}

// Flush returns the unterminated tail, if any, and resets the buffer.
func (b *lineBuffer) Flush() []string {
	if len(b.pending) == 0 {
		return nil
	}
	lines := appendLine(nil, b.pending)
	b.pending = nil
	return lines
}

func appendLine(lines []string, raw []byte) []string {
	line := strings.TrimRight(string(raw), "\r")
	if strings.TrimSpace(line) == "" {
		return lines
	}
	return append(lines, line)
}
