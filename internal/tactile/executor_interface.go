package tactile

import (
	"context"
)

// Executor is the interface for command execution.
type Executor interface {
	// Execute runs a command and returns its result. Infrastructure failures
	// after validation are reported in the result, not as an error.
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)

	// Validate checks if a command can be executed by this executor.
	Validate(cmd Command) error

	// Name identifies the executor in logs and audit events.
	Name() string
}

// AuditedExecutor is an executor that emits audit events.
type AuditedExecutor interface {
	Executor

	// SetAuditCallback sets the callback for audit events.
	SetAuditCallback(callback func(AuditEvent))
}
