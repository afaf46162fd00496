package starlarkengine

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/omegaup/replgrader/session"
	"github.com/omegaup/replgrader/vfs"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Kinds of the faults reported by catch().
const (
	KindEndOfInput   = "EndOfInput"
	KindModeError    = "ModeError"
	KindClosedError  = "ClosedError"
	KindNotFound     = "NotFound"
	KindValueError   = "ValueError"
	KindRuntimeError = "RuntimeError"
)

// ErrorKind classifies a fault raised while running code.
func ErrorKind(err error) string {
	switch {
	case stderrors.Is(err, session.ErrEndOfInput):
		return KindEndOfInput
	case stderrors.Is(err, vfs.ErrMode):
		return KindModeError
	case stderrors.Is(err, vfs.ErrClosed):
		return KindClosedError
	case stderrors.Is(err, vfs.ErrNotFound):
		return KindNotFound
	case stderrors.Is(err, vfs.ErrValue):
		return KindValueError
	}
	return KindRuntimeError
}

func (e *Engine) builtins() starlark.StringDict {
	return starlark.StringDict{
		"input":     starlark.NewBuiltin("input", e.input),
		"open":      starlark.NewBuiltin("open", e.open),
		"with_open": starlark.NewBuiltin("with_open", e.withOpen),
		"catch":     starlark.NewBuiltin("catch", e.catch),

		globalsName: &namespace{engine: e},
		publishName: starlark.NewBuiltin("publish", e.publish),
		showName:    starlark.NewBuiltin("show", e.show),
	}
}

// namespace gives function bodies the current value of every global, which
// may have been rebound by a later chunk.
type namespace struct {
	engine *Engine
}

var _ starlark.HasAttrs = (*namespace)(nil)

func (n *namespace) String() string        { return "<globals>" }
func (n *namespace) Type() string          { return "globals" }
func (n *namespace) Freeze()               {}
func (n *namespace) Truth() starlark.Bool  { return starlark.True }
func (n *namespace) Hash() (uint32, error) { return 0, stderrors.New("unhashable type: globals") }

func (n *namespace) Attr(name string) (starlark.Value, error) {
	if v := n.engine.globals[name]; v != nil {
		return v, nil
	}
	return nil, fmt.Errorf("global variable %s referenced before assignment", name)
}

func (n *namespace) AttrNames() []string {
	return nil
}

// publish(name, value, ...) stores top-level bindings in the namespace
// while the chunk that made them is still running.
func (e *Engine) publish(
	_ *starlark.Thread,
	_ *starlark.Builtin,
	args starlark.Tuple,
	_ []starlark.Tuple,
) (starlark.Value, error) {
	for i := 0; i+1 < len(args); i += 2 {
		if name, ok := starlark.AsString(args[i]); ok {
			e.globals[name] = args[i+1]
		}
	}
	return starlark.None, nil
}

// show(value) writes the representation of value unless it is None.
func (e *Engine) show(
	_ *starlark.Thread,
	_ *starlark.Builtin,
	args starlark.Tuple,
	_ []starlark.Tuple,
) (starlark.Value, error) {
	if len(args) == 1 && args[0] != starlark.None {
		io.WriteString(e.host.Stdout, Repr(args[0])+"\n")
	}
	return starlark.None, nil
}

// input(prompt="") shows the prompt and returns the next line of input.
func (e *Engine) input(
	_ *starlark.Thread,
	_ *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var prompt starlark.Value = starlark.String("")
	if err := starlark.UnpackPositionalArgs("input", args, kwargs, 0, &prompt); err != nil {
		return nil, err
	}
	text, ok := starlark.AsString(prompt)
	if !ok {
		text = prompt.String()
	}
	line, err := e.host.Input(text)
	if err != nil {
		return nil, err
	}
	return starlark.String(line), nil
}

// open(name, mode="r") opens a file of the session's file system.
func (e *Engine) open(
	_ *starlark.Thread,
	_ *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var name string
	mode := "r"
	if err := starlark.UnpackArgs("open", args, kwargs, "name", &name, "mode?", &mode); err != nil {
		return nil, err
	}
	f, err := e.host.FileSystem.OpenString(name, mode)
	if err != nil {
		return nil, err
	}
	return &file{f: f, engine: e}, nil
}

// with_open(name, mode, fn) calls fn with the open file and closes it
// afterwards, whatever happens in fn.
func (e *Engine) withOpen(
	thread *starlark.Thread,
	_ *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var name, rawMode string
	var fn starlark.Callable
	if err := starlark.UnpackArgs(
		"with_open", args, kwargs,
		"name", &name,
		"mode", &rawMode,
		"fn", &fn,
	); err != nil {
		return nil, err
	}
	mode, err := vfs.ParseMode(rawMode)
	if err != nil {
		return nil, err
	}
	var result starlark.Value = starlark.None
	err = e.host.FileSystem.WithFile(name, mode, func(f *vfs.File) error {
		v, err := starlark.Call(thread, fn, starlark.Tuple{&file{f: f, engine: e}}, nil)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// catch(fn, *args, **kwargs) calls fn. It returns None if the call
// succeeded, or a struct with the kind and message of the fault.
func (e *Engine) catch(
	thread *starlark.Thread,
	_ *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	if len(args) == 0 {
		return nil, stderrors.New("catch: missing argument for fn")
	}
	_, err := starlark.Call(thread, args[0], args[1:], kwargs)
	if cerr := e.cancelled(); cerr != nil && err != nil {
		return nil, err
	}
	// Built-ins such as list() iterate without noticing an abort.
	if fault := e.takeFault(); fault != nil {
		err = fault
	}
	if err == nil {
		return starlark.None, nil
	}

	message := err.Error()
	var evalErr *starlark.EvalError
	if stderrors.As(err, &evalErr) {
		message = evalErr.Msg
	}
	kind := ErrorKind(err)
	e.log.Debug("Caught fault", "kind", kind, "message", message)
	return starlarkstruct.FromStringDict(starlark.String("error"), starlark.StringDict{
		"kind":    starlark.String(kind),
		"message": starlark.String(message),
	}), nil
}
