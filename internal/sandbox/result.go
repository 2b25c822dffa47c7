package sandbox

import (
	"fmt"
	"strings"
	"time"
)

// Result is the outcome of one script execution.
type Result struct {
	ExecutionID string

	Stdout string
	Stderr string

	// ExitStatus is the process exit code, or -1 when the process did not
	// exit normally (timeout, kill, staging or launch failure).
	ExitStatus int
	TimedOut   bool

	// ImagePath is the promoted output image, "" when none was produced.
	ImagePath string

	Duration  time.Duration
	Truncated bool

	// CleanupErr is set when the staging directory could not be removed.
	CleanupErr string
}

// Succeeded reports whether the script ran to completion with exit status 0.
func (r *Result) Succeeded() bool {
	return !r.TimedOut && r.ExitStatus == 0
}

// ErrorText describes a failed execution for the user. It is empty on success.
func (r *Result) ErrorText() string {
	switch {
	case r.Succeeded():
		return ""
	case r.TimedOut:
		return fmt.Sprintf("Execution timed out after %s.", r.Duration.Round(time.Second))
	case r.ExitStatus > 0:
		msg := strings.TrimSpace(r.Stderr)
		if msg == "" {
			msg = "(no error output)"
		}
		return fmt.Sprintf("Execution failed with exit status %d:\n%s", r.ExitStatus, msg)
	default:
		msg := strings.TrimSpace(r.Stderr)
		if msg == "" {
			msg = "unknown error"
		}
		return "Execution failed: " + msg
	}
}
