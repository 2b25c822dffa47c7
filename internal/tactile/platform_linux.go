//go:build linux

package tactile

import (
	"fmt"

	"golang.org/x/sys/unix"

	"dataanalyst/internal/logging"
)

// rlimitsFor maps ResourceLimits onto rlimit resources. Zero fields are
// left at the inherited value.
func rlimitsFor(limits *ResourceLimits) map[int]uint64 {
	out := make(map[int]uint64)
	if limits == nil {
		return out
	}
	if limits.MaxMemoryBytes > 0 {
		out[unix.RLIMIT_AS] = uint64(limits.MaxMemoryBytes)
	}
	if limits.MaxCPUTimeMs > 0 {
		secs := uint64(limits.MaxCPUTimeMs / 1000)
		if secs == 0 {
			secs = 1
		}
		out[unix.RLIMIT_CPU] = secs
	}
	if limits.MaxFileSize > 0 {
		out[unix.RLIMIT_FSIZE] = uint64(limits.MaxFileSize)
	}
	if limits.MaxProcesses > 0 {
		out[unix.RLIMIT_NPROC] = uint64(limits.MaxProcesses)
	}
	return out
}

// applyResourceLimits sets rlimits on a running process. Limits are applied
// just after start, so the first instructions of the child run unlimited.
func applyResourceLimits(pid int, limits *ResourceLimits) error {
	for resource, value := range rlimitsFor(limits) {
		rl := unix.Rlimit{Cur: value, Max: value}
		if err := unix.Prlimit(pid, resource, &rl, nil); err != nil {
			return fmt.Errorf("prlimit(%d, resource %d): %w", pid, resource, err)
		}
		logging.TactileDebug("pid %d: rlimit %d set to %d", pid, resource, value)
	}
	return nil
}
