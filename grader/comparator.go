package grader

import (
	"fmt"
	"strings"

	"github.com/omegaup/replgrader/common"
	"github.com/pkg/errors"
)

// A Comparator decides whether a transcript matches the expected output.
type Comparator interface {
	// Compare returns whether transcript matches expected, and the output
	// that is reported for the case.
	Compare(transcript, expected string) (bool, string)
}

// NewComparator returns the Comparator for policy.
func NewComparator(policy common.ComparatorPolicy) (Comparator, error) {
	switch policy {
	case common.ComparatorExact:
		return exactComparator{}, nil
	case common.ComparatorTrailingWhitespace:
		return trailingWhitespaceComparator{}, nil
	}
	return nil, errors.Errorf("unknown comparator policy %q", policy)
}

// exactComparator requires both strings to be equal. A transcript with
// exactly one extra trailing newline also matches an expected output without
// one, and that newline is stripped from the reported output.
type exactComparator struct{}

func (exactComparator) Compare(transcript, expected string) (bool, string) {
	if transcript == expected {
		return true, transcript
	}
	if !strings.HasSuffix(expected, "\n") && transcript == expected+"\n" {
		return true, expected
	}
	return false, transcript
}

// trailingWhitespaceComparator ignores trailing newlines and spaces on both
// sides. The reported output is the unmodified transcript.
type trailingWhitespaceComparator struct{}

func (trailingWhitespaceComparator) Compare(transcript, expected string) (bool, string) {
	return strings.TrimRight(transcript, " \n") == strings.TrimRight(expected, " \n"), transcript
}

// A Mismatch describes where a transcript first differs from the expected
// output.
type Mismatch struct {
	TranscriptLength int
	ExpectedLength   int

	// Offset is the byte offset of the first difference, or -1 if one of
	// the strings is a prefix of the other.
	Offset int
	Line   int
	Column int
}

// Compare returns where transcript and expected differ, or nil if they are
// equal.
func Compare(transcript, expected string) *Mismatch {
	if transcript == expected {
		return nil
	}
	m := &Mismatch{
		TranscriptLength: len(transcript),
		ExpectedLength:   len(expected),
		Offset:           -1,
	}
	for i := 0; i < len(transcript) && i < len(expected); i++ {
		if transcript[i] != expected[i] {
			m.Offset = i
			m.Line = strings.Count(transcript[:i], "\n") + 1
			m.Column = i - strings.LastIndexByte(transcript[:i], '\n')
			break
		}
	}
	return m
}

func (m *Mismatch) String() string {
	var parts []string
	if m.TranscriptLength != m.ExpectedLength {
		parts = append(parts, fmt.Sprintf("lengths: %d, %d", m.TranscriptLength, m.ExpectedLength))
	}
	if m.Offset >= 0 {
		parts = append(parts, fmt.Sprintf("differ at offset %d (line %d, column %d)", m.Offset, m.Line, m.Column))
	}
	return strings.Join(parts, "; ")
}
