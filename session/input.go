package session

import (
	stderrors "errors"
	"strings"
)

// ErrEndOfInput is raised to the executing code when it requests a line of
// input and the predetermined input has been exhausted.
var ErrEndOfInput = stderrors.New("EOF when reading a line")

// An InputFeed is an ordered, consumable sequence of predetermined input
// lines.
type InputFeed struct {
	lines  []string
	cursor int
}

// NewInputFeed returns a feed that yields lines, in order.
func NewInputFeed(lines []string) *InputFeed {
	return &InputFeed{
		lines: append([]string(nil), lines...),
	}
}

// ParseInput normalizes a raw stdin text into a feed: carriage returns are
// dropped, trailing newlines are stripped and the remainder is split into
// lines. A nil input yields a feed that is exhausted from the start.
func ParseInput(raw *string) *InputFeed {
	if raw == nil {
		return NewInputFeed(nil)
	}
	text := strings.ReplaceAll(*raw, "\r", "")
	text = strings.TrimRight(text, "\n")
	return NewInputFeed(strings.Split(text, "\n"))
}

// Next consumes and returns the next line. Once every line has been
// consumed, Next fails with ErrEndOfInput.
func (f *InputFeed) Next() (string, error) {
	if f.cursor >= len(f.lines) {
		return "", ErrEndOfInput
	}
	line := f.lines[f.cursor]
	f.cursor++
	return line, nil
}

// Consumed returns how many lines have been handed out.
func (f *InputFeed) Consumed() int {
	return f.cursor
}

// Remaining returns how many lines are still available.
func (f *InputFeed) Remaining() int {
	return len(f.lines) - f.cursor
}
