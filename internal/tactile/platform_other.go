//go:build !linux

package tactile

import "dataanalyst/internal/logging"

// applyResourceLimits is a no-op outside Linux; only the wall-clock deadline
// and output caps are enforced there.
func applyResourceLimits(pid int, limits *ResourceLimits) error {
	if limits != nil && (limits.MaxMemoryBytes > 0 || limits.MaxCPUTimeMs > 0) {
		logging.TactileDebug("pid %d: rlimits not supported on this platform", pid)
	}
	return nil
}
