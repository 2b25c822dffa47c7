//go:build !linux && !windows

package tactile

import "syscall"

// BSD-derived systems report ru_maxrss in bytes.
func maxRSSBytes(r *syscall.Rusage) int64 { return r.Maxrss }
