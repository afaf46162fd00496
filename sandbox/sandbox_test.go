package sandbox

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/inconshreveable/log15"
	base "github.com/omegaup/go-base/v3"
	"github.com/omegaup/replgrader/common"
	"github.com/omegaup/replgrader/grader"
	"github.com/omegaup/replgrader/session"
	"github.com/omegaup/replgrader/starlarkengine"
	"github.com/vincent-petithory/dataurl"
)

// helperEnv makes the test binary behave as a sandboxed child.
const helperEnv = "REPLGRADER_SANDBOX_HELPER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(helperMain(mode))
	}
	os.Exit(m.Run())
}

func newFactory(config *common.GraderConfig, log log15.Logger) session.EngineFactory {
	return starlarkengine.NewFactory(config.MaxExecutionSteps, log)
}

func helperMain(mode string) int {
	switch mode {
	case "serve":
		if err := Serve(common.NewTestingContext(), newFactory, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	case "sleep":
		time.Sleep(time.Hour)
	case "kill":
		syscall.Kill(os.Getpid(), syscall.SIGKILL)
		time.Sleep(time.Hour)
	case "garbage":
		fmt.Println("this is not a data url")
	case "silent":
		fmt.Fprintln(os.Stderr, "nothing to say")
		return 3
	case "memory":
		buf := make([]byte, 256*1024*1024)
		for i := 0; i < len(buf); i += 4096 {
			buf[i] = 1
		}
		time.Sleep(time.Hour)
		runtime.KeepAlive(buf)
	}
	return 0
}

func newHelperContext(t *testing.T, mode string) *common.Context {
	t.Helper()
	t.Setenv(helperEnv, mode)
	ctx := common.NewTestingContext()
	ctx.Config.Sandbox.Command = fmt.Sprintf("'%s'", os.Args[0])
	ctx.Config.Sandbox.MemoryLimit = base.Byte(1) * base.Gibibyte
	ctx.Config.Sandbox.TimeLimit = base.Duration(30 * time.Second)
	return ctx
}

func stringPtr(s string) *string {
	return &s
}

const helloProgram = "def hello(name):\n    return 'Hello ' + name\n"

var helloCases = []grader.TestCase{
	{Script: "hello('Richard')", Expected: "'Hello Richard'"},
	{Script: "hello('World')", Expected: "'Hello Richard'"},
	{Script: "print(input())", Stdin: stringPtr("from stdin\r\n"), Expected: "from stdin\n"},
}

func outcomes(results []grader.CaseResult) []grader.Outcome {
	tags := make([]grader.Outcome, len(results))
	for i, result := range results {
		tags[i] = result.Outcome
	}
	return tags
}

func TestCodec(t *testing.T) {
	config := common.DefaultConfig().Grader
	cases := []grader.TestCase{
		{Script: "a", Expected: "\x00\xff\xfe\r\n"},
		{Script: "b", Stdin: stringPtr(""), Expected: ""},
		{Script: "c", Stdin: stringPtr("x\ny"), Expected: "z"},
	}
	for _, compress := range []bool{false, true} {
		encoded, err := Encode(NewRequest(&config, compress, "program\n", cases), compress)
		if err != nil {
			t.Fatalf("Encode failed with %v", err)
		}
		if strings.ContainsAny(encoded, "\n\r") {
			t.Errorf("encoded request spans several lines: %q", encoded)
		}
		var req Request
		if err := Decode(encoded, &req); err != nil {
			t.Fatalf("Decode failed with %v", err)
		}
		if string(req.Program) != "program\n" || req.Compress != compress {
			t.Errorf("request %+v", req)
		}
		if !reflect.DeepEqual(req.TestCases(), cases) {
			t.Errorf("compress=%v: cases %+v, expected %+v", compress, req.TestCases(), cases)
		}
		if !reflect.DeepEqual(req.Grader, config) {
			t.Errorf("compress=%v: grader config %+v, expected %+v", compress, req.Grader, config)
		}
	}

	results := []grader.CaseResult{
		{Outcome: grader.OutcomePass, Transcript: "ok"},
		{Outcome: grader.OutcomeRuntimeError, Transcript: "\x1b[0m\xc3"},
	}
	encoded, err := Encode(NewResponse(results, &Failure{Reason: ReasonTimeout}), true)
	if err != nil {
		t.Fatalf("Encode failed with %v", err)
	}
	var resp Response
	if err := Decode(encoded, &resp); err != nil {
		t.Fatalf("Decode failed with %v", err)
	}
	if !reflect.DeepEqual(resp.CaseResults(), results) {
		t.Errorf("results %+v, expected %+v", resp.CaseResults(), results)
	}
	if resp.Failure == nil || resp.Failure.Reason != ReasonTimeout {
		t.Errorf("failure %v, expected a timeout", resp.Failure)
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, encoded := range []string{
		"",
		"not a data url",
		dataurl.New([]byte("{}"), "text/plain").String(),
		dataurl.New([]byte("not zstd"), mediaTypeZstd).String(),
		dataurl.New([]byte("{"), mediaTypeJSON).String(),
	} {
		var resp Response
		if err := Decode(encoded, &resp); err == nil {
			t.Errorf("Decode(%q) succeeded", encoded)
		}
	}
}

func TestSignalFailure(t *testing.T) {
	log := common.NewDiscardLogger()
	for _, tc := range []struct {
		sig    syscall.Signal
		reason Reason
		detail string
	}{
		{syscall.SIGXCPU, ReasonTimeout, "SIGXCPU"},
		{syscall.SIGALRM, ReasonTimeout, "SIGALRM"},
		{syscall.SIGSEGV, ReasonSignaled, "SIGSEGV (timeout or too much memory?)"},
		{syscall.SIGKILL, ReasonSignaled, "SIGKILL (timeout or too much memory?)"},
		{syscall.SIGUSR1, ReasonSignaled, "SIGUSR1 (timeout or too much memory?)"},
	} {
		failure := signalFailure(log, tc.sig)
		if failure.Reason != tc.reason || failure.Detail != tc.detail {
			t.Errorf("signalFailure(%v) = %+v, expected %s, %q", tc.sig, failure, tc.reason, tc.detail)
		}
	}
}

func TestServe(t *testing.T) {
	ctx := common.NewTestingContext()
	config := ctx.Config.Grader
	encoded, err := Encode(NewRequest(&config, true, helloProgram, helloCases), true)
	if err != nil {
		t.Fatalf("Encode failed with %v", err)
	}
	var out bytes.Buffer
	if err := Serve(ctx, newFactory, strings.NewReader(encoded+"\n"), &out); err != nil {
		t.Fatalf("Serve failed with %v", err)
	}
	var resp Response
	if err := Decode(strings.TrimSpace(out.String()), &resp); err != nil {
		t.Fatalf("Decode failed with %v", err)
	}
	expected := []grader.Outcome{grader.OutcomePass, grader.OutcomeFail, grader.OutcomePass}
	if !reflect.DeepEqual(outcomes(resp.CaseResults()), expected) || resp.Failure != nil {
		t.Errorf("response %+v, expected outcomes %v", resp, expected)
	}
}

func TestServeCaseTimeout(t *testing.T) {
	ctx := common.NewTestingContext()
	config := ctx.Config.Grader
	config.CaseTimeLimit = base.Duration(50 * time.Millisecond)
	encoded, err := Encode(NewRequest(&config, false, "", []grader.TestCase{
		{Script: "1", Expected: "1"},
		{Script: "print('partial')\nwhile True:\n    pass\n", Expected: ""},
	}), false)
	if err != nil {
		t.Fatalf("Encode failed with %v", err)
	}
	var out bytes.Buffer
	if err := Serve(ctx, newFactory, strings.NewReader(encoded), &out); err != nil {
		t.Fatalf("Serve failed with %v", err)
	}
	var resp Response
	if err := Decode(strings.TrimSpace(out.String()), &resp); err != nil {
		t.Fatalf("Decode failed with %v", err)
	}
	if resp.Failure == nil || resp.Failure.Reason != ReasonTimeout {
		t.Fatalf("failure %v, expected a timeout", resp.Failure)
	}
	if string(resp.Failure.Partial) != "partial\n" {
		t.Errorf("partial transcript %q, expected %q", resp.Failure.Partial, "partial\n")
	}
	if !reflect.DeepEqual(outcomes(resp.CaseResults()), []grader.Outcome{grader.OutcomePass}) {
		t.Errorf("results %+v, expected the case before the timeout", resp.Results)
	}
}

func TestServeRejectsInvalidRequests(t *testing.T) {
	ctx := common.NewTestingContext()
	var out bytes.Buffer
	if err := Serve(ctx, newFactory, strings.NewReader("garbage\n"), &out); err == nil {
		t.Errorf("Serve of garbage succeeded")
	}

	config := ctx.Config.Grader
	config.Comparator = "fuzzy"
	encoded, err := Encode(NewRequest(&config, false, "", nil), false)
	if err != nil {
		t.Fatalf("Encode failed with %v", err)
	}
	if err := Serve(ctx, newFactory, strings.NewReader(encoded), &out); err == nil {
		t.Errorf("Serve with an unknown comparator succeeded")
	}
	if out.Len() != 0 {
		t.Errorf("Serve wrote %q for invalid requests", out.String())
	}
}

func TestLocalRunner(t *testing.T) {
	runner := &LocalRunner{NewFactory: newFactory}
	results, err := runner.Run(common.NewTestingContext(), helloProgram, helloCases)
	if err != nil {
		t.Fatalf("Run failed with %v", err)
	}
	expected := []grader.Outcome{grader.OutcomePass, grader.OutcomeFail, grader.OutcomePass}
	if !reflect.DeepEqual(outcomes(results), expected) {
		t.Errorf("outcomes %v, expected %v", outcomes(results), expected)
	}
}

func TestProcessRunner(t *testing.T) {
	for _, compress := range []bool{false, true} {
		ctx := newHelperContext(t, "serve")
		ctx.Config.Sandbox.Compress = compress
		results, err := NewProcessRunner().Run(ctx, helloProgram, helloCases)
		if err != nil {
			t.Fatalf("Run failed with %v", err)
		}
		expected := []grader.Outcome{grader.OutcomePass, grader.OutcomeFail, grader.OutcomePass}
		if !reflect.DeepEqual(outcomes(results), expected) {
			t.Errorf("compress=%v: outcomes %v, expected %v", compress, outcomes(results), expected)
		}
		if results[1].Transcript != "'Hello World'\n" {
			t.Errorf("compress=%v: transcript %q", compress, results[1].Transcript)
		}
	}
}

func TestProcessRunnerFailures(t *testing.T) {
	for _, tc := range []struct {
		mode   string
		setup  func(config *common.SandboxConfig)
		reason Reason
		detail string
	}{
		{
			"sleep",
			func(config *common.SandboxConfig) { config.TimeLimit = base.Duration(200 * time.Millisecond) },
			ReasonTimeout,
			"wall time limit exceeded",
		},
		{
			"memory",
			func(config *common.SandboxConfig) { config.MemoryLimit = base.Byte(64) * base.Mebibyte },
			ReasonMemoryLimitExceeded,
			"",
		},
		{"kill", nil, ReasonSignaled, "SIGKILL (timeout or too much memory?)"},
		{"garbage", nil, ReasonTransport, ""},
		{"silent", nil, ReasonNoResult, "nothing to say"},
	} {
		t.Run(tc.mode, func(t *testing.T) {
			ctx := newHelperContext(t, tc.mode)
			if tc.setup != nil {
				tc.setup(&ctx.Config.Sandbox)
			}
			results, err := NewProcessRunner().Run(ctx, helloProgram, helloCases)
			var failure *Failure
			if !stderrors.As(err, &failure) {
				t.Fatalf("Run returned %v, %v, expected a failure", results, err)
			}
			if failure.Reason != tc.reason {
				t.Errorf("reason %s, expected %s (%v)", failure.Reason, tc.reason, failure)
			}
			if tc.detail != "" && failure.Detail != tc.detail {
				t.Errorf("detail %q, expected %q", failure.Detail, tc.detail)
			}
			if len(results) != 0 {
				t.Errorf("results %+v, expected none", results)
			}
		})
	}
}

func TestProcessRunnerCommandErrors(t *testing.T) {
	ctx := common.NewTestingContext()
	for _, command := range []string{"", "'unterminated", "/nonexistent/replgrader-sandbox"} {
		ctx.Config.Sandbox.Command = command
		if _, err := NewProcessRunner().Run(ctx, "", nil); err == nil {
			t.Errorf("Run with command %q succeeded", command)
		}
	}
}
