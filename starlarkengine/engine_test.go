package starlarkengine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/omegaup/replgrader/session"
	"github.com/omegaup/replgrader/vfs"
	"go.starlark.net/starlark"
)

func run(
	t *testing.T,
	fs *vfs.FileSystem,
	program string,
	script []string,
	input []string,
) *session.Session {
	t.Helper()
	if fs == nil {
		fs = vfs.New()
	}
	s, err := session.New(NewFactory(0, nil), fs, session.NewInputFeed(input), nil)
	if err != nil {
		t.Fatalf("session.New failed with %v", err)
	}
	if err := s.Run(context.Background(), program, script); err != nil {
		t.Fatalf("Run failed with %v", err)
	}
	return s
}

func TestEcho(t *testing.T) {
	for _, tc := range []struct {
		script   []string
		expected string
	}{
		{[]string{"'Hello ' + 'Richard'"}, "'Hello Richard'\n"},
		{[]string{`"it's"`}, "\"it's\"\n"},
		{[]string{"1 + 2"}, "3\n"},
		{[]string{"None"}, ""},
		{[]string{"print('plain')"}, "plain\n"},
		{[]string{"[1, 'a', (2,)]"}, "[1, 'a', (2,)]\n"},
		{[]string{"{'k': True}"}, "{'k': True}\n"},
		{[]string{"x = 5", "x", "x * 2"}, "5\n10\n"},
		{[]string{"x = 1; x"}, "1\n"},
		{[]string{"1; None; 2"}, "1\n2\n"},
		{[]string{"print('a'); 'b'"}, "a\n'b'\n"},
		{[]string{"if True:", "    'inside'", ""}, "'inside'\n"},
		{[]string{"for i in range(2):", "    i", ""}, "0\n1\n"},
		{[]string{"def f():", "    'not shown'", "", "f()"}, ""},
		{[]string{""}, ""},
	} {
		s := run(t, nil, "", tc.script, nil)
		if s.State() != session.StateCompleted {
			t.Errorf("%q: state %s, transcript %q", tc.script, s.State(), s.Transcript())
			continue
		}
		if s.Transcript() != tc.expected {
			t.Errorf("%q: transcript %q, expected %q", tc.script, s.Transcript(), tc.expected)
		}
	}
}

func TestPendingStatements(t *testing.T) {
	s, err := session.New(NewFactory(0, nil), vfs.New(), nil, nil)
	if err != nil {
		t.Fatalf("session.New failed with %v", err)
	}
	if err := s.Execute(""); err != nil {
		t.Fatalf("Execute failed with %v", err)
	}
	for _, tc := range []struct {
		line     string
		expected session.Step
	}{
		{"def double(x):", session.StepPending},
		{"    return 2 * x", session.StepPending},
		{"", session.StepExecuted},
		{"pair = (1,", session.StepPending},
		{"  2)", session.StepExecuted},
		{"double(21)", session.StepExecuted},
		{"pair", session.StepExecuted},
	} {
		step, err := s.Submit(tc.line)
		if err != nil || step != tc.expected {
			t.Fatalf("Submit(%q) = %v, %v, expected %v (transcript %q)", tc.line, step, err, tc.expected, s.Transcript())
		}
	}
	if expected := "42\n(1, 2)\n"; s.Transcript() != expected {
		t.Errorf("transcript %q, expected %q", s.Transcript(), expected)
	}
}

func TestFinishClosesBlock(t *testing.T) {
	s := run(t, nil, "", []string{"for i in range(3):", "    print(i)"}, nil)
	if s.State() != session.StateCompleted || s.Transcript() != "0\n1\n2\n" {
		t.Errorf("state %s, transcript %q", s.State(), s.Transcript())
	}
}

func TestSyntaxErrors(t *testing.T) {
	s := run(t, nil, "def hello(name)\n    return 'Hello ' + name\n", []string{"hello('x')"}, nil)
	if s.State() != session.StateSyntaxError {
		t.Errorf("missing colon: state %s, expected SyntaxErrorTerminal", s.State())
	}
	if !strings.HasPrefix(s.Transcript(), "SyntaxError: ") {
		t.Errorf("missing colon: transcript %q", s.Transcript())
	}

	s = run(t, nil, "values = [1, 2,\n", []string{"values"}, nil)
	if s.State() != session.StateSyntaxError {
		t.Errorf("unclosed bracket: state %s, expected SyntaxErrorTerminal", s.State())
	}
	if !strings.Contains(s.Transcript(), session.IncompleteProgramMessage) {
		t.Errorf("unclosed bracket: transcript %q", s.Transcript())
	}

	s = run(t, nil, "", []string{"print('ok')", "x = = 1", "print('never')"}, nil)
	if s.State() != session.StateSyntaxError {
		t.Errorf("bad command: state %s, expected SyntaxErrorTerminal", s.State())
	}
	if strings.Contains(s.Transcript(), "never") || !strings.HasPrefix(s.Transcript(), "ok\n") {
		t.Errorf("bad command: transcript %q", s.Transcript())
	}
}

func TestUndefinedNamesFailAtRuntime(t *testing.T) {
	program := "def hello(name):\n    return greeting + name\n"

	s := run(t, nil, program, []string{"hello('Richard')"}, nil)
	if s.State() != session.StateRuntimeError {
		t.Fatalf("state %s, expected RuntimeErrorTerminal (transcript %q)", s.State(), s.Transcript())
	}
	if !strings.HasPrefix(s.Transcript(), "Traceback") || !strings.Contains(s.Transcript(), "greeting") {
		t.Errorf("transcript %q, expected a traceback naming the variable", s.Transcript())
	}

	// Defining the function alone is fine.
	s = run(t, nil, program, []string{"greeting = 'Hi '", "hello"}, nil)
	if s.State() != session.StateCompleted || !strings.HasPrefix(s.Transcript(), "<function hello") {
		t.Errorf("state %s, transcript %q", s.State(), s.Transcript())
	}

	s = run(t, nil, "", []string{"print(1)", "undefined_name", "print(3)"}, nil)
	if s.State() != session.StateRuntimeError {
		t.Errorf("state %s, expected RuntimeErrorTerminal", s.State())
	}
	if !strings.HasPrefix(s.Transcript(), "1\n") || strings.Contains(s.Transcript(), "3\n") {
		t.Errorf("transcript %q", s.Transcript())
	}
}

func TestGlobalsRebinding(t *testing.T) {
	program := `x = 1
def f():
    return x
def g():
    return later
def first():
    return second()
def second():
    return 'second'
value = first()
`
	script := []string{
		"f()",
		"x = 2",
		"f()",
		"later = 'set by a command'",
		"g()",
		"h = lambda: x * 10",
		"x = 3",
		"h()",
		"for x in range(2):",
		"    f()",
		"",
		"x, y = 'a', 'b'; f()",
		"value",
	}
	s := run(t, nil, program, script, nil)
	if s.State() != session.StateCompleted {
		t.Fatalf("state %s, transcript %q", s.State(), s.Transcript())
	}
	expected := "1\n2\n'set by a command'\n30\n0\n1\n'a'\n'second'\n"
	if s.Transcript() != expected {
		t.Errorf("transcript %q, expected %q", s.Transcript(), expected)
	}
}

const echoProgram = `def echo():
    n = 0
    while True:
        s = input("Hi %d: " % n)
        print(s)
        n += 1

def loop():
    catch(echo)
`

func TestInputEcho(t *testing.T) {
	s := run(t, nil, echoProgram, []string{"loop()"}, []string{"This is", "my input"})
	if s.State() != session.StateCompleted {
		t.Errorf("state %s, expected Completed", s.State())
	}
	if expected := "Hi 0: This is\nHi 1: my input\nHi 2: "; s.Transcript() != expected {
		t.Errorf("transcript %q, expected %q", s.Transcript(), expected)
	}
}

func TestUnhandledEndOfInput(t *testing.T) {
	s := run(t, nil, "", []string{"a = input()", "b = input('> ')", "print(a)"}, []string{"only"})
	if s.State() != session.StateRuntimeError {
		t.Fatalf("state %s, expected RuntimeErrorTerminal", s.State())
	}
	if !strings.HasPrefix(s.Transcript(), "> Traceback") || !strings.Contains(s.Transcript(), session.ErrEndOfInput.Error()) {
		t.Errorf("transcript %q", s.Transcript())
	}
}

func TestFiles(t *testing.T) {
	fs := vfs.New()
	program := `def save(f):
    f.write("one\n")
    f.writelines(["two\n", "three\n"])

with_open("notes.txt", "w", save)
`
	script := []string{
		"f = open('notes.txt')",
		"f.readline()",
		"f.readlines()",
		"f.tell()",
		"f.seek(4)",
		"[line for line in f]",
		"f.close()",
		"f.closed",
		"catch(f.read).kind",
		"catch(open, 'missing.txt').kind",
		"catch(open, 'notes.txt', 'x').kind",
		"catch(open('notes.txt').write, 'x').kind",
		"catch(f.seek, 0, 7).kind",
		"g = open('notes.txt', 'a')",
		"g.write('four\\n')",
		"g.truncate(4)",
	}
	s := run(t, fs, program, script, nil)
	if s.State() != session.StateCompleted {
		t.Fatalf("state %s, transcript %q", s.State(), s.Transcript())
	}
	expected := strings.Join([]string{
		"'one\\n'",
		"['two\\n', 'three\\n']",
		"14",
		"4",
		"['two\\n', 'three\\n']",
		"True",
		"'ClosedError'",
		"'NotFound'",
		"'ModeError'",
		"'ModeError'",
		"'ClosedError'",
		"5",
		"",
	}, "\n")
	if s.Transcript() != expected {
		t.Errorf("transcript %q, expected %q", s.Transcript(), expected)
	}
	if contents, _ := fs.Contents("notes.txt"); string(contents) != "one\n" {
		t.Errorf("notes.txt = %q, expected %q", contents, "one\n")
	}
}

func TestFileOffsetsNeverOverflow(t *testing.T) {
	program := "f = open('x', 'w')\nf.write('abc')\nf.seek(1)\n"
	script := []string{
		"f.read(9223372036854775807)",
		"f.seek(9223372036854775807, 2)",
		"f.tell()",
		"f.seek(-9223372036854775808, 1)",
	}
	s := run(t, nil, program, script, nil)
	if s.State() != session.StateCompleted {
		t.Fatalf("state %s, transcript %q", s.State(), s.Transcript())
	}
	if expected := "'bc'\n3\n3\n0\n"; s.Transcript() != expected {
		t.Errorf("transcript %q, expected %q", s.Transcript(), expected)
	}
}

func TestIterateClosedFile(t *testing.T) {
	script := []string{
		"f = open('notes.txt', 'w')",
		"f.close()",
		"catch(lambda: [line for line in f]).kind",
		"catch(list, f).kind",
		"catch(f.readline) == None",
		"for line in f:",
		"    print('never')",
		"",
		"'not reached'",
	}
	s := run(t, nil, "", script, nil)
	if s.State() != session.StateRuntimeError {
		t.Fatalf("state %s, transcript %q", s.State(), s.Transcript())
	}
	transcript := s.Transcript()
	if !strings.HasPrefix(transcript, "'ClosedError'\n'ClosedError'\nFalse\n") {
		t.Errorf("transcript %q, expected two caught ClosedErrors first", transcript)
	}
	if !strings.Contains(transcript, "I/O operation on closed file") {
		t.Errorf("transcript %q does not report the closed file", transcript)
	}
	for _, unexpected := range []string{"never", "not reached", "cancelled"} {
		if strings.Contains(transcript, unexpected) {
			t.Errorf("transcript %q contains %q", transcript, unexpected)
		}
	}
}

func TestWithOpenClosesOnFault(t *testing.T) {
	program := `handle = []
def fail(f):
    handle.append(f)
    f.write("partial")
    fail_now()
`
	s := run(t, nil, program, []string{"catch(with_open, 'out', 'w', fail).kind", "handle[0].closed"}, nil)
	if s.State() != session.StateCompleted {
		t.Fatalf("state %s, transcript %q", s.State(), s.Transcript())
	}
	if expected := "'RuntimeError'\nTrue\n"; s.Transcript() != expected {
		t.Errorf("transcript %q, expected %q", s.Transcript(), expected)
	}
}

func TestStepLimit(t *testing.T) {
	s, err := session.New(NewFactory(10000, nil), vfs.New(), nil, nil)
	if err != nil {
		t.Fatalf("session.New failed with %v", err)
	}
	err = s.Run(context.Background(), "", []string{"while True:", "    pass", ""})
	if !errors.Is(err, session.ErrCancelled) {
		t.Errorf("Run returned %v, expected ErrCancelled", err)
	}
	if s.ErrorState() != session.ErrorNone {
		t.Errorf("error state %s, expected None", s.ErrorState())
	}
}

func TestRepr(t *testing.T) {
	list := starlark.NewList([]starlark.Value{starlark.MakeInt(1)})
	list.Append(list)
	for _, tc := range []struct {
		value    starlark.Value
		expected string
	}{
		{starlark.String("plain"), "'plain'"},
		{starlark.String("it's"), `"it's"`},
		{starlark.String(`both ' and "`), `'both \' and "'`},
		{starlark.String("tab\tnew\nline\\"), `'tab\tnew\nline\\'`},
		{starlark.String("\x00\xff"), `'\x00\xff'`},
		{starlark.String("ñ"), "'ñ'"},
		{starlark.None, "None"},
		{starlark.True, "True"},
		{starlark.Tuple{}, "()"},
		{starlark.Tuple{starlark.String("a")}, "('a',)"},
		{list, "[1, [...]]"},
		{starlark.NewSet(0), "set()"},
	} {
		if got := Repr(tc.value); got != tc.expected {
			t.Errorf("Repr(%v) = %s, expected %s", tc.value, got, tc.expected)
		}
	}
}

func TestErrorKind(t *testing.T) {
	for _, tc := range []struct {
		err      error
		expected string
	}{
		{session.ErrEndOfInput, KindEndOfInput},
		{vfs.ErrMode, KindModeError},
		{vfs.ErrClosed, KindClosedError},
		{vfs.ErrNotFound, KindNotFound},
		{vfs.ErrValue, KindValueError},
		{errors.New("boom"), KindRuntimeError},
	} {
		if got := ErrorKind(tc.err); got != tc.expected {
			t.Errorf("ErrorKind(%v) = %s, expected %s", tc.err, got, tc.expected)
		}
	}
}
