//go:build !linux

package sandbox

import (
	"os"
	"time"
)

func cpuLimitSeconds(limit time.Duration) uint64 {
	return 0
}

// setCPULimit is not supported: only the wall clock limit applies.
func setCPULimit(pid int, limit time.Duration) error {
	return nil
}

func maxRSS(state *os.ProcessState) uint64 {
	return 0
}
