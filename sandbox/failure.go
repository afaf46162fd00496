package sandbox

import (
	"fmt"
	"syscall"

	"github.com/inconshreveable/log15"
	"golang.org/x/sys/unix"
)

// Reason is the reason why a sandboxed run produced no result.
type Reason string

const (
	// ReasonTimeout means the wall clock or CPU time limit was reached.
	ReasonTimeout Reason = "timeout"
	// ReasonMemoryLimitExceeded means the child used more memory than allowed.
	ReasonMemoryLimitExceeded Reason = "memory-limit-exceeded"
	// ReasonSignaled means the child was terminated by a signal.
	ReasonSignaled Reason = "signaled"
	// ReasonTransport means the response could not be read.
	ReasonTransport Reason = "transport"
	// ReasonNoResult means the child exited without a result for a case.
	ReasonNoResult Reason = "no-result"
)

// A Failure is a sandbox-level failure. It is never a fault of a test case:
// the case that was running when it happened has no outcome.
type Failure struct {
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`

	// Partial is what the aborted case showed before it was stopped, when
	// the child could still report it.
	Partial []byte `json:"partial,omitempty"`
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("sandbox: %s", f.Reason)
	}
	return fmt.Sprintf("sandbox: %s: %s", f.Reason, f.Detail)
}

// signalFailure classifies the termination of the child by sig.
func signalFailure(log log15.Logger, sig syscall.Signal) *Failure {
	name := unix.SignalName(sig)
	if name == "" {
		name = fmt.Sprintf("SIGNAL %d", int(sig))
	}
	switch sig {
	case unix.SIGALRM, unix.SIGXCPU:
		return &Failure{Reason: ReasonTimeout, Detail: name}
	case unix.SIGILL, unix.SIGSYS,
		unix.SIGABRT, unix.SIGFPE, unix.SIGKILL, unix.SIGPIPE, unix.SIGBUS, unix.SIGSEGV,
		unix.SIGXFSZ:
	default:
		log.Error("Received odd signal", "signal", name)
	}
	return &Failure{
		Reason: ReasonSignaled,
		Detail: name + " (timeout or too much memory?)",
	}
}
