// Package grader runs a submitted program against an ordered list of test
// cases and classifies the outcome of each one.
package grader

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/omegaup/replgrader/common"
	"github.com/omegaup/replgrader/session"
	"github.com/omegaup/replgrader/vfs"
	"github.com/pkg/errors"
)

// Outcome is the classification of a test case.
type Outcome int

const (
	// OutcomePass means the transcript matched the expected output.
	OutcomePass Outcome = iota
	// OutcomeFail means the transcript did not match the expected output.
	OutcomeFail
	// OutcomeSyntaxError means the program or a command did not parse.
	OutcomeSyntaxError
	// OutcomeRuntimeError means the program or a command faulted.
	OutcomeRuntimeError
)

var outcomeNames = map[Outcome]string{
	OutcomePass:         "Pass",
	OutcomeFail:         "Fail",
	OutcomeSyntaxError:  "SyntaxError",
	OutcomeRuntimeError: "RuntimeError",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MarshalText returns the tag of the outcome.
func (o Outcome) MarshalText() ([]byte, error) {
	name, ok := outcomeNames[o]
	if !ok {
		return nil, errors.Errorf("invalid outcome %d", int(o))
	}
	return []byte(name), nil
}

// UnmarshalText parses an outcome tag.
func (o *Outcome) UnmarshalText(text []byte) error {
	for outcome, name := range outcomeNames {
		if name == string(text) {
			*o = outcome
			return nil
		}
	}
	return errors.Errorf("invalid outcome %q", text)
}

// Aborts returns whether a case with this outcome stops the batch.
func (o Outcome) Aborts() bool {
	return o == OutcomeSyntaxError || o == OutcomeRuntimeError
}

// A TestCase is one command script, run after the program, together with
// its predetermined input and expected transcript.
type TestCase struct {
	Script   string  `json:"script"`
	Stdin    *string `json:"stdin,omitempty"`
	Expected string  `json:"expected"`
}

// A CaseResult is the outcome of one executed test case and the transcript
// it produced.
type CaseResult struct {
	Outcome    Outcome
	Transcript string
}

// ErrEnginePanic is the cause of a NoResultError for a case whose engine
// panicked.
var ErrEnginePanic = stderrors.New("engine panicked")

// A NoResultError reports a case that produced no result, such as one that
// ran out of time. Transcript is what the case showed before it was
// aborted.
type NoResultError struct {
	Case       int
	Transcript string
	Err        error
}

func (e *NoResultError) Error() string {
	return fmt.Sprintf("case %d: %v", e.Case, e.Err)
}

func (e *NoResultError) Unwrap() error {
	return e.Err
}

// Grade runs program against every case, in order, and stops after the
// first case classified as SyntaxError or RuntimeError. Every case runs in
// a fresh Session. A non-nil error, a *NoResultError, means that a case
// produced no result: the results gathered until then are returned
// alongside it.
func Grade(
	ctx *common.Context,
	factory session.EngineFactory,
	program string,
	cases []TestCase,
) ([]CaseResult, error) {
	comparator, err := NewComparator(ctx.Config.Grader.Comparator)
	if err != nil {
		return nil, err
	}

	// The file system never outlives this invocation.
	var shared *vfs.FileSystem
	switch ctx.Config.Grader.FileSystemScope {
	case common.FileSystemPerCase:
	case common.FileSystemPerBatch:
		shared = vfs.New()
	default:
		return nil, errors.Errorf("unknown file system scope %q", ctx.Config.Grader.FileSystemScope)
	}

	ctx.Log.Info("Grading", "cases", len(cases), "comparator", ctx.Config.Grader.Comparator)
	ctx.Metrics.CounterAdd(common.MetricBatches, 1)

	results := make([]CaseResult, 0, len(cases))
	for i, tc := range cases {
		fs := shared
		if fs == nil {
			fs = vfs.New()
		}
		result, err := gradeCase(ctx, factory, comparator, fs, program, &tc)
		if err != nil {
			ctx.Log.Error("Case produced no result", "case", i, "err", err)
			return results, &NoResultError{Case: i, Transcript: result.Transcript, Err: err}
		}
		results = append(results, *result)
		ctx.Metrics.CounterAdd(common.MetricCasesPrefix+strings.ToLower(result.Outcome.String()), 1)
		if result.Outcome.Aborts() {
			ctx.Log.Info("Aborting batch", "case", i, "outcome", result.Outcome)
			break
		}
	}
	return results, nil
}

func gradeCase(
	ctx *common.Context,
	factory session.EngineFactory,
	comparator Comparator,
	fs *vfs.FileSystem,
	program string,
	tc *TestCase,
) (result *CaseResult, err error) {
	start := time.Now()
	var s *session.Session
	defer func() {
		if r := recover(); r != nil {
			ctx.Log.Error("Engine panicked", "panic", r, "stack", string(debug.Stack()))
			result = &CaseResult{}
			if s != nil {
				result.Transcript = s.Transcript()
			}
			err = errors.Wrapf(ErrEnginePanic, "%v", r)
		}
		ctx.Metrics.SummaryObserve(common.MetricCaseDuration, time.Since(start).Seconds())
	}()

	s, err = session.New(factory, fs, session.ParseInput(tc.Stdin), ctx.Log)
	if err != nil {
		return &CaseResult{}, err
	}

	runCtx := ctx.Context
	if limit := time.Duration(ctx.Config.Grader.CaseTimeLimit); limit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, limit)
		defer cancel()
	}
	if err := s.Run(runCtx, program, session.SplitScript(tc.Script)); err != nil {
		return &CaseResult{Transcript: s.Transcript()}, err
	}

	result = &CaseResult{Transcript: s.Transcript()}
	switch s.State() {
	case session.StateSyntaxError:
		result.Outcome = OutcomeSyntaxError
	case session.StateRuntimeError:
		result.Outcome = OutcomeRuntimeError
	default:
		var ok bool
		ok, result.Transcript = comparator.Compare(s.Transcript(), tc.Expected)
		if ok {
			result.Outcome = OutcomePass
		} else {
			result.Outcome = OutcomeFail
			ctx.Log.Debug(
				"Transcript mismatch",
				"mismatch", Compare(s.Transcript(), tc.Expected),
			)
		}
	}
	return result, nil
}
