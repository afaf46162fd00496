package sandbox

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// cpuLimitSeconds rounds the time limit up to whole seconds, the
// granularity of RLIMIT_CPU.
func cpuLimitSeconds(limit time.Duration) uint64 {
	if limit <= 0 {
		return 0
	}
	return uint64((limit + time.Second - 1) / time.Second)
}

// setCPULimit limits the CPU time of a running process. The process gets
// SIGXCPU at the soft limit and SIGKILL one second later.
func setCPULimit(pid int, limit time.Duration) error {
	seconds := cpuLimitSeconds(limit)
	return unix.Prlimit(pid, unix.RLIMIT_CPU, &unix.Rlimit{Cur: seconds, Max: seconds + 1}, nil)
}

// maxRSS returns the peak resident set size of an exited process, in bytes.
func maxRSS(state *os.ProcessState) uint64 {
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok && usage.Maxrss > 0 {
		return uint64(usage.Maxrss) * 1024
	}
	return 0
}
