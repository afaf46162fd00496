// Package starlarkengine runs programs written in Starlark, a dialect of
// Python, on behalf of a session.Session.
package starlarkengine

import (
	stderrors "errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/inconshreveable/log15"
	"github.com/omegaup/replgrader/session"
	"github.com/omegaup/replgrader/vfs"
	"github.com/pkg/errors"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	programFilename = "<program>"
	stdinFilename   = "<stdin>"
)

// FileOptions is the dialect accepted for programs and commands: closer to
// Python than the Starlark defaults.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Factory creates an Engine per session.
type Factory struct {
	// MaxExecutionSteps bounds the work of a single session. Zero means no
	// limit.
	MaxExecutionSteps uint64
	Log               log15.Logger
}

var _ session.EngineFactory = (*Factory)(nil)

// NewFactory returns a Factory that cancels sessions after maxSteps
// interpreter steps.
func NewFactory(maxSteps uint64, log log15.Logger) *Factory {
	return &Factory{
		MaxExecutionSteps: maxSteps,
		Log:               log,
	}
}

// NewEngine returns a fresh interpreter bound to host.
func (f *Factory) NewEngine(host *session.Host) (session.Engine, error) {
	if host == nil || host.Stdout == nil {
		return nil, errors.New("host must have a Stdout")
	}
	if host.FileSystem == nil {
		host.FileSystem = vfs.New()
	}
	if host.Input == nil {
		host.Input = func(string) (string, error) {
			return "", session.ErrEndOfInput
		}
	}
	log := f.Log
	if log == nil {
		log = log15.New()
		log.SetHandler(log15.DiscardHandler())
	}

	e := &Engine{
		host:   host,
		log:    log,
		thread: &starlark.Thread{Name: "main"},
	}
	e.thread.Print = func(_ *starlark.Thread, msg string) {
		io.WriteString(host.Stdout, msg+"\n")
	}
	if f.MaxExecutionSteps > 0 {
		e.thread.SetMaxExecutionSteps(f.MaxExecutionSteps)
		e.thread.OnMaxSteps = func(*starlark.Thread) {
			e.Cancel("execution step limit exceeded")
		}
	}
	e.globals = e.builtins()
	return e, nil
}

// An Engine is a Starlark interpreter whose module globals persist across
// Exec and Run calls, the way an interactive console keeps its namespace.
type Engine struct {
	host         *session.Host
	log          log15.Logger
	thread       *starlark.Thread
	globals      starlark.StringDict
	cancelReason atomic.Pointer[string]

	// fault is raised where no error can be returned. It is only touched by
	// the goroutine running the code.
	fault error
}

var _ session.Engine = (*Engine)(nil)

// Cancel makes the current execution, and any later one, fail with
// session.ErrCancelled.
func (e *Engine) Cancel(reason string) {
	e.cancelReason.CompareAndSwap(nil, &reason)
	e.thread.Cancel(reason)
}

func (e *Engine) cancelled() error {
	if reason := e.cancelReason.Load(); reason != nil {
		return errors.Wrap(session.ErrCancelled, *reason)
	}
	return nil
}

// abort stops the running code with err. The interpreter notices it at
// its next step, and translate or catch() report err in its place.
func (e *Engine) abort(err error) {
	if e.fault == nil {
		e.fault = err
	}
	e.thread.Cancel(err.Error())
}

// takeFault returns the error passed to abort, if any, and lets the thread
// run again unless the engine itself was cancelled.
func (e *Engine) takeFault() error {
	err := e.fault
	if err == nil {
		return nil
	}
	e.fault = nil
	e.thread.Uncancel()
	if reason := e.cancelReason.Load(); reason != nil {
		e.thread.Cancel(*reason)
	}
	return err
}

// Exec runs a whole program.
func (e *Engine) Exec(program string) error {
	if err := e.cancelled(); err != nil {
		return err
	}
	f, err := e.compile(func() (*syntax.File, error) {
		return FileOptions.Parse(programFilename, program, 0)
	}, false)
	if err != nil {
		if incomplete(err) {
			return session.ErrIncomplete
		}
		return e.translate(err)
	}
	return e.translate(starlark.ExecREPLChunk(f, e.thread, e.globals))
}

// Run runs one interactive chunk. A compound statement is complete once it
// is followed by a blank line.
func (e *Engine) Run(chunk string) error {
	if err := e.cancelled(); err != nil {
		return err
	}
	lines := strings.Split(chunk, "\n")
	starved := false
	f, err := e.compile(func() (*syntax.File, error) {
		next := 0
		starved = false
		return FileOptions.ParseCompoundStmt(stdinFilename, func() ([]byte, error) {
			if next == len(lines) {
				starved = true
				return nil, io.EOF
			}
			next++
			return []byte(lines[next-1] + "\n"), nil
		})
	}, true)
	if starved {
		return session.ErrIncomplete
	}
	if err != nil {
		return e.translate(err)
	}
	if len(f.Stmts) == 0 {
		return nil
	}
	return e.translate(starlark.ExecREPLChunk(f, e.thread, e.globals))
}

// compile parses a chunk and declares the globals it reads but never
// assigns, so that reading one of them fails when (and if) it is executed
// instead of when it is compiled. The chunk is then parsed once more, to get
// a tree that has not been resolved yet, and rewritten to share its globals
// with every other chunk. If echo is set, expression statements write their
// values.
func (e *Engine) compile(parse func() (*syntax.File, error), echo bool) (*syntax.File, error) {
	f, err := parse()
	if err != nil {
		return nil, err
	}
	if err := resolve.REPLChunk(f, e.globals.Has, notPredeclared, starlark.Universe.Has); err != nil {
		if err := e.declareUndefined(err); err != nil {
			return nil, err
		}
		if f, err = parse(); err != nil {
			return nil, err
		}
		if err := resolve.REPLChunk(f, e.globals.Has, notPredeclared, starlark.Universe.Has); err != nil {
			return nil, err
		}
	}
	reads := globalReads(functionGlobalReads(f))

	if f, err = parse(); err != nil {
		return nil, err
	}
	reads.stmts(f.Stmts)
	if echo {
		showExprStmts(f.Stmts)
	}
	f.Stmts = publishBindings(f.Stmts)
	return f, nil
}

// declareUndefined binds every name that err reports as undefined to an
// unassigned global. Any other resolver error is returned.
func (e *Engine) declareUndefined(err error) error {
	var list resolve.ErrorList
	if !stderrors.As(err, &list) {
		return err
	}
	var undefined []string
	var rest resolve.ErrorList
	for _, resolveErr := range list {
		if name, ok := undefinedName(resolveErr.Msg); ok {
			undefined = append(undefined, name)
		} else {
			rest = append(rest, resolveErr)
		}
	}
	if len(rest) != 0 {
		return rest
	}
	for _, name := range undefined {
		if _, ok := e.globals[name]; !ok {
			// A nil global is bound but unassigned.
			e.globals[name] = nil
		}
	}
	e.log.Debug("Declared late-bound globals", "names", undefined)
	return nil
}

// translate turns interpreter errors into session errors.
func (e *Engine) translate(err error) error {
	fault := e.takeFault()
	if err == nil && fault == nil {
		return nil
	}
	if cerr := e.cancelled(); cerr != nil {
		return cerr
	}

	var syntaxErr syntax.Error
	var resolveErrs resolve.ErrorList
	var evalErr *starlark.EvalError
	if fault != nil {
		if stderrors.As(err, &evalErr) {
			evalErr.Msg = fault.Error()
			return session.NewRuntimeError(evalErr.Backtrace(), fault)
		}
		return session.NewRuntimeError("Error: "+fault.Error(), fault)
	}
	switch {
	case stderrors.As(err, &syntaxErr):
		return session.NewSyntaxError("SyntaxError: " + syntaxErr.Error())
	case stderrors.As(err, &resolveErrs):
		messages := make([]string, len(resolveErrs))
		for i, resolveErr := range resolveErrs {
			messages[i] = "SyntaxError: " + resolveErr.Error()
		}
		return session.NewSyntaxError(strings.Join(messages, "\n"))
	case stderrors.As(err, &evalErr):
		return session.NewRuntimeError(evalErr.Backtrace(), evalErr)
	}
	return session.NewRuntimeError("Error: "+err.Error(), err)
}

func notPredeclared(string) bool {
	return false
}

// undefinedName extracts NAME from a resolver message of the form
// "undefined: NAME (did you mean OTHER?)".
func undefinedName(msg string) (string, bool) {
	rest, ok := strings.CutPrefix(msg, "undefined: ")
	if !ok {
		return "", false
	}
	name, _, _ := strings.Cut(rest, " ")
	return name, name != ""
}

// incomplete returns whether a parse failed because the source ended in
// the middle of a statement.
func incomplete(err error) bool {
	var syntaxErr syntax.Error
	if !stderrors.As(err, &syntaxErr) {
		return false
	}
	return strings.HasPrefix(syntaxErr.Msg, "got end of file") ||
		strings.Contains(syntaxErr.Msg, "unexpected EOF")
}
