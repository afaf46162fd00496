// Package session drives the interactive execution of one test case: it
// runs the submitted program, then feeds the command script to the engine
// line by line, the way a user would type it at an interactive prompt, and
// records everything that is shown into a transcript.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/inconshreveable/log15"
	"github.com/omegaup/replgrader/vfs"
	"github.com/pkg/errors"
)

// IncompleteProgramMessage is added to the transcript when the program ends
// in the middle of a statement.
const IncompleteProgramMessage = "Program code incomplete (unclosed brackets?)"

// maxFlushLines is the number of blank lines submitted to close a pending
// statement once the script is over. A statement that is still pending after
// that (an unclosed bracket, say) is a syntax error.
const maxFlushLines = 2

// State is the execution state of a Session.
type State int

const (
	// StateReady is the state of a Session that has not executed anything.
	StateReady State = iota
	// StateRunning is the state of a Session that is executing its script.
	StateRunning
	// StateCompleted is the state of a Session that ran everything without
	// errors.
	StateCompleted
	// StateSyntaxError is the terminal state after a parse failure.
	StateSyntaxError
	// StateRuntimeError is the terminal state after an unhandled fault.
	StateRuntimeError
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateSyntaxError:
		return "SyntaxErrorTerminal"
	case StateRuntimeError:
		return "RuntimeErrorTerminal"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal returns whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateSyntaxError || s == StateRuntimeError
}

// Step is the result of submitting one line.
type Step int

const (
	// StepPending means the statement is incomplete and awaits more lines.
	StepPending Step = iota
	// StepExecuted means the statement was complete and ran successfully.
	StepExecuted
	// StepFailed means the statement failed, or the session was already in a
	// terminal state.
	StepFailed
)

// NormalizeProgram appends a line terminator to a program that does not end
// with one.
func NormalizeProgram(program string) string {
	if strings.HasSuffix(program, "\n") {
		return program
	}
	return program + "\n"
}

// SplitScript splits a command script into the lines that are submitted one
// at a time.
func SplitScript(script string) []string {
	return strings.Split(script, "\n")
}

// A Session drives one execution. It is discarded after its outcome has been
// classified.
type Session struct {
	engine     Engine
	input      *InputFeed
	log        log15.Logger
	transcript strings.Builder
	state      State
	errorState ErrorState
	pending    []string
	aborted    error
}

// New creates a Session whose engine sees fs as its file system and input as
// its predetermined input.
func New(
	factory EngineFactory,
	fs *vfs.FileSystem,
	input *InputFeed,
	log log15.Logger,
) (*Session, error) {
	if input == nil {
		input = NewInputFeed(nil)
	}
	if log == nil {
		log = log15.New()
		log.SetHandler(log15.DiscardHandler())
	}
	s := &Session{
		input: input,
		log:   log,
		state: StateReady,
	}
	engine, err := factory.NewEngine(&Host{
		Stdout:     &s.transcript,
		Input:      s.readInput,
		FileSystem: fs,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create engine")
	}
	s.engine = engine
	return s, nil
}

func (s *Session) readInput(prompt string) (string, error) {
	s.transcript.WriteString(prompt)
	return s.input.Next()
}

// Transcript returns everything shown so far.
func (s *Session) Transcript() string {
	return s.transcript.String()
}

// State returns the current execution state.
func (s *Session) State() State {
	return s.state
}

// ErrorState returns the terminal error state, if any.
func (s *Session) ErrorState() ErrorState {
	return s.errorState
}

// Pending returns whether there is an incomplete statement waiting for more
// lines.
func (s *Session) Pending() bool {
	return len(s.pending) != 0
}

// Aborted returns the reason why the session produced no result, or nil.
func (s *Session) Aborted() error {
	return s.aborted
}

// Execute compiles and runs the whole program. A non-nil error means that
// the execution was aborted; faults of the program are recorded in the
// session state instead.
func (s *Session) Execute(program string) error {
	if s.state != StateReady {
		return errors.Errorf("cannot execute a program in state %s", s.state)
	}
	s.state = StateRunning
	err := s.engine.Exec(NormalizeProgram(program))
	if err == nil {
		return nil
	}
	if stderrors.Is(err, ErrIncomplete) {
		err = NewSyntaxError(IncompleteProgramMessage)
	}
	return s.fail(err)
}

// Submit adds one line to the pending statement and tries to run it. Once
// the session is in a terminal state, lines are ignored. A non-nil error
// means that the execution was aborted.
func (s *Session) Submit(line string) (Step, error) {
	if s.state == StateReady {
		s.state = StateRunning
	}
	if s.state.Terminal() || s.aborted != nil {
		return StepFailed, s.aborted
	}
	return s.push(line)
}

func (s *Session) push(line string) (Step, error) {
	s.pending = append(s.pending, line)
	err := s.engine.Run(strings.Join(s.pending, "\n"))
	if stderrors.Is(err, ErrIncomplete) {
		return StepPending, nil
	}
	s.pending = nil
	if err == nil {
		return StepExecuted, nil
	}
	if err := s.fail(err); err != nil {
		return StepFailed, err
	}
	return StepFailed, nil
}

// Finish closes off any pending statement by submitting blank lines, then
// moves the session to its terminal state. This also happens after a runtime
// error, so that a syntax error in the pending statement is not masked.
func (s *Session) Finish() error {
	if s.aborted != nil {
		return s.aborted
	}
	for i := 0; s.Pending() && s.errorState != ErrorSyntax; i++ {
		if i == maxFlushLines {
			s.pending = nil
			s.fail(NewSyntaxError("unexpected end of input"))
			break
		}
		if _, err := s.push(""); err != nil {
			return err
		}
	}
	if s.state == StateRunning || s.state == StateReady {
		s.state = StateCompleted
	}
	return nil
}

// Run executes program and then every line of script, stopping at the first
// syntax or runtime error, and finishes the session. If ctx is done before
// that, the engine is cancelled and the error wraps ErrCancelled.
func (s *Session) Run(ctx context.Context, program string, script []string) error {
	stop := context.AfterFunc(ctx, func() {
		s.engine.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	if err := s.Execute(program); err != nil {
		return err
	}
	for _, line := range script {
		if s.state.Terminal() {
			break
		}
		if _, err := s.Submit(line); err != nil {
			return err
		}
	}
	if err := s.Finish(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		// The engine may have finished right as the context expired.
		s.aborted = errors.Wrap(ErrCancelled, context.Cause(ctx).Error())
		return s.aborted
	}
	return nil
}

// fail records err. Cancellations abort the session and are returned;
// everything else is a fault of the code being run.
func (s *Session) fail(err error) error {
	if stderrors.Is(err, ErrCancelled) {
		s.aborted = err
		s.log.Warn("Execution cancelled", "err", err)
		return err
	}

	var execErr *ExecError
	if !stderrors.As(err, &execErr) {
		execErr = NewRuntimeError(err.Error(), err)
	}
	if execErr.Message != "" {
		s.transcript.WriteString(execErr.Message)
		if !strings.HasSuffix(execErr.Message, "\n") {
			s.transcript.WriteString("\n")
		}
	}
	if execErr.State > s.errorState {
		s.errorState = execErr.State
	}
	switch s.errorState {
	case ErrorSyntax:
		s.state = StateSyntaxError
	case ErrorRuntime:
		s.state = StateRuntimeError
	}
	s.log.Debug("Execution failed", "state", s.state, "err", execErr)
	return nil
}
