package core

import (
	"strings"
	"unicode/utf8"
)

const MaxLogEntries = 1000
const MaxLogMessageSize = 4096

// LogBuffer collects console output for a single sandbox run.
type LogBuffer struct {
	lines []string
}

// Add appends a formatted "[LEVEL] message" line. Lines past MaxLogEntries
// are dropped and long messages are truncated on a rune boundary.
func (b *LogBuffer) Add(level, message string) {
	if len(b.lines) >= MaxLogEntries {
		return
	}
	if len(message) > MaxLogMessageSize {
		n := MaxLogMessageSize
		for n > 0 && !utf8.RuneStart(message[n]) {
			n--
		}
		message = message[:n] + "...(truncated)"
	}
	b.lines = append(b.lines, "["+strings.ToUpper(level)+"] "+message)
}

// Lines returns the captured lines in order.
func (b *LogBuffer) Lines() []string {
	if b.lines == nil {
		return []string{}
	}
	return b.lines
}
