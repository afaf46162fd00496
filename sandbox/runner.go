package sandbox

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/omegaup/replgrader/common"
	"github.com/omegaup/replgrader/grader"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/process"
)

// maxDetailLength bounds how much of the child's stderr is kept in a
// Failure.
const maxDetailLength = 1024

// A Runner grades a program against a list of test cases. It returns the
// results of the cases that produced one, and a *Failure if the run was
// cut short.
type Runner interface {
	Run(ctx *common.Context, program string, cases []grader.TestCase) ([]grader.CaseResult, error)
}

// LocalRunner grades in the current process. Only the step budget and the
// per-case time limit bound the execution.
type LocalRunner struct {
	NewFactory FactoryFunc
}

var _ Runner = &LocalRunner{}

// Run grades program in the current process.
func (r *LocalRunner) Run(
	ctx *common.Context,
	program string,
	cases []grader.TestCase,
) ([]grader.CaseResult, error) {
	return grader.Grade(ctx, r.NewFactory(&ctx.Config.Grader, ctx.Log), program, cases)
}

// ProcessRunner grades in a child process started from
// Config.Sandbox.Command, which must call Serve. The child runs in its own
// process group, with a CPU time limit, a wall clock limit and a memory
// ceiling. Violating any of them kills the whole group.
type ProcessRunner struct {
}

var _ Runner = &ProcessRunner{}

// NewProcessRunner returns a new ProcessRunner.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

// Run grades program in a sandboxed child.
func (r *ProcessRunner) Run(
	ctx *common.Context,
	program string,
	cases []grader.TestCase,
) ([]grader.CaseResult, error) {
	config := &ctx.Config.Sandbox
	argv, err := shlex.Split(config.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse sandbox command %q", config.Command)
	}
	if len(argv) == 0 {
		return nil, errors.New("empty sandbox command")
	}
	payload, err := Encode(
		NewRequest(&ctx.Config.Grader, config.Compress, program, cases),
		config.Compress,
	)
	if err != nil {
		return nil, err
	}

	runCtx := ctx.Context
	timeLimit := time.Duration(config.TimeLimit)
	if timeLimit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeLimit)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(payload + "\n")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start sandbox %q", argv[0])
	}
	pid := cmd.Process.Pid
	ctx.Log.Debug("Sandbox started", "pid", pid, "cases", len(cases))
	if timeLimit > 0 {
		if err := setCPULimit(pid, timeLimit); err != nil {
			ctx.Log.Warn("Failed to set the CPU time limit", "pid", pid, "err", err)
		}
	}
	monitor := newMemoryMonitor(pid, uint64(config.MemoryLimit), time.Duration(config.PollInterval))
	go monitor.run()

	waitErr := cmd.Wait()
	monitor.stop()
	peak := monitor.peak
	if rss := maxRSS(cmd.ProcessState); rss > peak {
		peak = rss
	}
	ctx.Metrics.SummaryObserve(common.MetricSandboxDuration, time.Since(start).Seconds())
	ctx.Metrics.SummaryObserve(common.MetricSandboxMemory, float64(peak))

	if ctx.Context.Err() != nil {
		return nil, errors.Wrap(ctx.Context.Err(), "sandbox run cancelled")
	}

	run := &finishedRun{
		state:      cmd.ProcessState,
		waitErr:    waitErr,
		timedOut:   stderrors.Is(runCtx.Err(), context.DeadlineExceeded),
		cpuLimit:   cpuLimitSeconds(timeLimit),
		memLimit:   uint64(config.MemoryLimit),
		peak:       peak,
		overMemory: monitor.exceeded,
		stdout:     stdout.Bytes(),
		stderr:     stderr.String(),
	}
	results, failure := run.collect(ctx)
	if failure != nil {
		ctx.Log.Warn(
			"Sandbox run produced no result",
			"reason", failure.Reason,
			"detail", failure.Detail,
			"graded", len(results),
		)
		ctx.Metrics.CounterAdd(common.MetricAbortedPrefix+string(failure.Reason), 1)
		return results, failure
	}
	return results, nil
}

// finishedRun is everything known about a child that has been waited for.
type finishedRun struct {
	state      *os.ProcessState
	waitErr    error
	timedOut   bool
	cpuLimit   uint64
	memLimit   uint64
	peak       uint64
	overMemory bool
	stdout     []byte
	stderr     string
}

func (run *finishedRun) collect(ctx *common.Context) ([]grader.CaseResult, *Failure) {
	if run.overMemory || (run.memLimit > 0 && run.peak > run.memLimit) {
		return nil, &Failure{Reason: ReasonMemoryLimitExceeded}
	}
	if run.timedOut {
		return nil, &Failure{Reason: ReasonTimeout, Detail: "wall time limit exceeded"}
	}
	if run.state != nil && run.cpuLimit > 0 {
		used := run.state.UserTime() + run.state.SystemTime()
		if used >= time.Duration(run.cpuLimit)*time.Second {
			return nil, &Failure{Reason: ReasonTimeout, Detail: "CPU time limit exceeded"}
		}
	}
	if run.state != nil {
		if status, ok := run.state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return nil, signalFailure(ctx.Log, status.Signal())
		}
	}

	line := string(bytes.TrimSpace(run.stdout))
	if line == "" {
		detail := tail(run.stderr)
		if detail == "" && run.waitErr != nil {
			detail = run.waitErr.Error()
		}
		return nil, &Failure{Reason: ReasonNoResult, Detail: detail}
	}
	var resp Response
	if err := Decode(line, &resp); err != nil {
		return nil, &Failure{Reason: ReasonTransport, Detail: err.Error()}
	}
	if run.waitErr != nil {
		ctx.Log.Warn("Sandbox exited with an error after responding", "err", run.waitErr)
	}
	return resp.CaseResults(), resp.Failure
}

// tail returns the last lines of the child's stderr.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDetailLength {
		s = s[len(s)-maxDetailLength:]
	}
	return s
}

func killGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// memoryMonitor polls the resident set size of a process, keeps the peak
// and kills the process group when it goes over the limit.
type memoryMonitor struct {
	pid      int
	limit    uint64
	interval time.Duration

	// Only valid after stop returns.
	peak     uint64
	exceeded bool

	done     chan struct{}
	finished chan struct{}
}

func newMemoryMonitor(pid int, limit uint64, interval time.Duration) *memoryMonitor {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &memoryMonitor{
		pid:      pid,
		limit:    limit,
		interval: interval,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (m *memoryMonitor) run() {
	defer close(m.finished)
	proc, err := process.NewProcess(int32(m.pid))
	if err != nil {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if info, err := proc.MemoryInfo(); err == nil {
			if info.RSS > m.peak {
				m.peak = info.RSS
			}
			if m.limit > 0 && info.RSS > m.limit && !m.exceeded {
				m.exceeded = true
				killGroup(m.pid)
			}
		}
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}
	}
}

func (m *memoryMonitor) stop() {
	close(m.done)
	<-m.finished
}
