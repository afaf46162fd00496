package session

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/omegaup/replgrader/vfs"
)

var (
	// ErrIncomplete is returned by Engine.Run when the source is a valid
	// prefix of a statement that needs more lines.
	ErrIncomplete = stderrors.New("incomplete statement")

	// ErrCancelled is returned by an Engine whose execution was cancelled.
	// It is not a fault of the program: the session produced no result.
	ErrCancelled = stderrors.New("execution cancelled")
)

// ErrorState is the terminal error state of a session. The values are
// ordered: a session's error state only ever increases.
type ErrorState int

const (
	// ErrorNone means no error has happened.
	ErrorNone ErrorState = iota
	// ErrorRuntime means an unhandled fault happened while executing code.
	ErrorRuntime
	// ErrorSyntax means the program or a command failed to parse.
	ErrorSyntax
)

func (e ErrorState) String() string {
	switch e {
	case ErrorNone:
		return "None"
	case ErrorRuntime:
		return "RuntimeError"
	case ErrorSyntax:
		return "SyntaxError"
	}
	return fmt.Sprintf("ErrorState(%d)", int(e))
}

// An ExecError is a fault reported by an Engine. Message is the text an
// interactive console would have shown to the user.
type ExecError struct {
	State   ErrorState
	Message string
	Cause   error
}

// NewSyntaxError returns an ExecError for a parse or compile failure.
func NewSyntaxError(message string) *ExecError {
	return &ExecError{State: ErrorSyntax, Message: message}
}

// NewRuntimeError returns an ExecError for an unhandled fault.
func NewRuntimeError(message string, cause error) *ExecError {
	return &ExecError{State: ErrorRuntime, Message: message, Cause: cause}
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s", e.State, e.Message)
}

// Unwrap returns the underlying cause, so that errors.Is can look for
// ErrEndOfInput and friends.
func (e *ExecError) Unwrap() error {
	return e.Cause
}

// A Host is what a Session lends to its Engine.
type Host struct {
	// Stdout receives everything the program prints, echoed expression
	// values and input prompts.
	Stdout io.Writer

	// Input writes prompt to Stdout and returns the next predetermined input
	// line, or ErrEndOfInput.
	Input func(prompt string) (string, error)

	// FileSystem is the virtual file system visible to the program.
	FileSystem *vfs.FileSystem
}

// An Engine compiles and runs code on behalf of one Session. Engines are not
// safe for concurrent use, except for Cancel.
type Engine interface {
	// Exec compiles and runs a whole program. Faults are reported as
	// *ExecError.
	Exec(program string) error

	// Run compiles and runs one interactive chunk, which may span several
	// lines. If the chunk is a lone expression with a non-None value, its
	// representation is written to the host's Stdout, followed by a newline.
	// Run returns ErrIncomplete if the chunk needs more lines, and
	// *ExecError for faults.
	Run(chunk string) error

	// Cancel aborts the current execution and any later one. It may be
	// called from any goroutine.
	Cancel(reason string)
}

// An EngineFactory creates the Engine of a new Session.
type EngineFactory interface {
	NewEngine(host *Host) (Engine, error)
}

// EngineFactoryFunc adapts a function into an EngineFactory.
type EngineFactoryFunc func(host *Host) (Engine, error)

// NewEngine calls f(host).
func (f EngineFactoryFunc) NewEngine(host *Host) (Engine, error) {
	return f(host)
}
