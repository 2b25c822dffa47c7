// Package tactile runs untrusted child processes: it is the layer that
// physically touches the host.
//
// Two executors exist:
//   - DirectExecutor runs the binary on the host in its own process group,
//     with rlimits and a reduced environment.
//   - DockerExecutor runs it inside a throwaway container with no network.
//
// Both enforce a wall-clock deadline, cap captured output, and report
// through the same ExecutionResult.
package tactile

import (
	"strings"
	"time"
)

// SandboxMode defines the isolation level for command execution.
type SandboxMode string

const (
	// SandboxNone runs commands directly on the host (default).
	SandboxNone SandboxMode = "none"

	// SandboxDocker runs commands in a Docker container.
	SandboxDocker SandboxMode = "docker"
)

// Command describes one process to run, for any executor type.
type Command struct {
	// Binary is the executable to run (e.g., "python3", "sh").
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// WorkingDirectory is the directory to execute in.
	// If empty, uses the executor's default working directory.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment variables to set (in KEY=VALUE format).
	// These are merged with the executor's allowed environment.
	Environment []string `json:"environment,omitempty"`

	// Limits specifies resource constraints for execution.
	Limits *ResourceLimits `json:"limits,omitempty"`

	// Sandbox specifies isolation settings.
	Sandbox *SandboxConfig `json:"sandbox,omitempty"`

	// RequestID uniquely identifies this execution request.
	RequestID string `json:"request_id,omitempty"`
}

// CommandString returns the full command as a string (for display/logging).
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ResourceLimits defines constraints on command execution.
type ResourceLimits struct {
	// TimeoutMs is the maximum wall-clock time in milliseconds.
	// Zero means use the executor's default timeout.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`

	// MaxCPUTimeMs limits CPU time consumption (not wall time).
	// Zero means unlimited.
	MaxCPUTimeMs int64 `json:"max_cpu_time_ms,omitempty"`

	// MaxMemoryBytes limits address space. Zero means unlimited.
	MaxMemoryBytes int64 `json:"max_memory_bytes,omitempty"`

	// MaxOutputBytes limits each captured stream.
	// Zero means use the executor's default.
	MaxOutputBytes int64 `json:"max_output_bytes,omitempty"`

	// MaxFileSize limits the size of files the process can create.
	// Zero means unlimited.
	MaxFileSize int64 `json:"max_file_size,omitempty"`

	// MaxProcesses limits the number of processes. Zero means OS default.
	MaxProcesses int `json:"max_processes,omitempty"`

	// NetworkAllowed controls whether network access is permitted.
	// Only enforced in sandbox modes that support network isolation.
	NetworkAllowed *bool `json:"network_allowed,omitempty"`
}

// TimeoutOr returns the configured timeout or def when none is set.
func (l *ResourceLimits) TimeoutOr(def time.Duration) time.Duration {
	if l != nil && l.TimeoutMs > 0 {
		return time.Duration(l.TimeoutMs) * time.Millisecond
	}
	return def
}

// SandboxConfig specifies isolation settings for command execution.
type SandboxConfig struct {
	// Mode is the sandboxing strategy.
	Mode SandboxMode `json:"mode"`

	// Image is the Docker image to use (for Docker mode).
	Image string `json:"image,omitempty"`

	// ReadOnlyRoot makes the root filesystem read-only.
	ReadOnlyRoot bool `json:"read_only_root,omitempty"`

	// AllowedPaths are mounted read-write at the same path inside the sandbox.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// DropCapabilities lists Linux capabilities to drop.
	DropCapabilities []string `json:"drop_capabilities,omitempty"`

	// NoNewPrivileges prevents privilege escalation.
	NoNewPrivileges bool `json:"no_new_privileges,omitempty"`

	// User runs the command as this user (user:group format).
	User string `json:"user,omitempty"`

	// NetworkMode for Docker: "none", "host", "bridge".
	NetworkMode string `json:"network_mode,omitempty"`

	// TmpfsSize is the size of /tmp tmpfs mount (e.g., "100m").
	TmpfsSize string `json:"tmpfs_size,omitempty"`
}

// ExecutionResult is the output of one command execution.
type ExecutionResult struct {
	// Success indicates the execution infrastructure worked.
	// A command that runs but returns non-zero has Success=true.
	Success bool `json:"success"`

	// ExitCode is the command's exit code (-1 if not available).
	ExitCode int `json:"exit_code"`

	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	// Killed indicates the command was forcibly terminated.
	Killed     bool   `json:"killed"`
	KillReason string `json:"kill_reason,omitempty"`

	// TimedOut is set when the kill was caused by the wall-clock deadline.
	TimedOut bool `json:"timed_out"`

	// Truncated indicates output was cut at the size limit.
	Truncated      bool  `json:"truncated"`
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`

	ResourceUsage *ResourceUsage `json:"resource_usage,omitempty"`

	// Error contains any infrastructure-level error message.
	Error string `json:"error,omitempty"`

	SandboxUsed SandboxMode `json:"sandbox_used"`
}

// IsError returns true if the execution infrastructure failed.
func (r *ExecutionResult) IsError() bool {
	return !r.Success || r.Error != ""
}

// IsNonZeroExit returns true if the command ran but returned non-zero.
func (r *ExecutionResult) IsNonZeroExit() bool {
	return r.Success && !r.Killed && r.ExitCode != 0
}

// Output returns Stdout and Stderr joined by a newline.
func (r *ExecutionResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// ResourceUsage contains metrics about resource consumption.
type ResourceUsage struct {
	UserTimeMs   int64 `json:"user_time_ms"`
	SystemTimeMs int64 `json:"system_time_ms"`
	MaxRSSBytes  int64 `json:"max_rss_bytes"`
}

// TotalCPUTimeMs returns total CPU time (user + system).
func (r *ResourceUsage) TotalCPUTimeMs() int64 {
	return r.UserTimeMs + r.SystemTimeMs
}

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventStart    AuditEventType = "start"
	AuditEventComplete AuditEventType = "complete"
	AuditEventKilled   AuditEventType = "killed"
	AuditEventError    AuditEventType = "error"
)

// AuditEvent is emitted by executors at each stage of an execution.
type AuditEvent struct {
	Type         AuditEventType   `json:"type"`
	Timestamp    time.Time        `json:"timestamp"`
	Command      Command          `json:"command"`
	Result       *ExecutionResult `json:"result,omitempty"`
	ExecutorName string           `json:"executor_name"`
}

// ExecutorConfig is the configuration for creating executors.
type ExecutorConfig struct {
	// DefaultWorkingDir is used when Command.WorkingDirectory is empty.
	DefaultWorkingDir string `json:"default_working_dir"`

	// DefaultTimeout is used when no timeout is specified.
	DefaultTimeout time.Duration `json:"default_timeout"`

	// MaxTimeout caps all timeout values.
	MaxTimeout time.Duration `json:"max_timeout"`

	// KillGrace is how long to wait for output pipes after the child is
	// killed before giving up on them.
	KillGrace time.Duration `json:"kill_grace"`

	// AllowedEnvironment lists host environment variables to pass through.
	AllowedEnvironment []string `json:"allowed_environment"`

	// DefaultSandbox is applied when Command.Sandbox is nil.
	DefaultSandbox *SandboxConfig `json:"default_sandbox,omitempty"`

	// DefaultLimits is applied when Command.Limits is nil.
	DefaultLimits *ResourceLimits `json:"default_limits,omitempty"`

	// MaxOutputBytes caps output capture per stream.
	MaxOutputBytes int64 `json:"max_output_bytes"`

	// AuditCallback is called for each execution event (optional).
	AuditCallback func(AuditEvent) `json:"-"`

	// DockerDefaultImage is used for Docker sandbox when no image specified.
	DockerDefaultImage string `json:"docker_default_image,omitempty"`

	// EnableResourceUsage enables collection of resource metrics.
	EnableResourceUsage bool `json:"enable_resource_usage"`
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultWorkingDir:  ".",
		DefaultTimeout:     30 * time.Second,
		MaxTimeout:         10 * time.Minute,
		KillGrace:          2 * time.Second,
		MaxOutputBytes:     1 << 20,
		AllowedEnvironment: []string{"PATH", "LANG", "LC_ALL"},
		DefaultLimits: &ResourceLimits{
			TimeoutMs:      30000,
			MaxOutputBytes: 1 << 20,
		},
		DockerDefaultImage:  "quay.io/jupyter/scipy-notebook:python-3.12",
		EnableResourceUsage: true,
	}
}

// Merge combines this config with command-specific settings.
// Command settings override config defaults.
func (c ExecutorConfig) Merge(cmd Command) Command {
	result := cmd

	if result.WorkingDirectory == "" {
		result.WorkingDirectory = c.DefaultWorkingDir
	}

	if result.Limits == nil && c.DefaultLimits != nil {
		limitsCopy := *c.DefaultLimits
		result.Limits = &limitsCopy
	} else if result.Limits != nil && c.DefaultLimits != nil {
		limitsCopy := *result.Limits
		if limitsCopy.TimeoutMs == 0 {
			limitsCopy.TimeoutMs = c.DefaultLimits.TimeoutMs
		}
		if limitsCopy.MaxOutputBytes == 0 {
			limitsCopy.MaxOutputBytes = c.DefaultLimits.MaxOutputBytes
		}
		result.Limits = &limitsCopy
	}

	if result.Limits != nil && c.MaxTimeout > 0 {
		maxMs := int64(c.MaxTimeout / time.Millisecond)
		if result.Limits.TimeoutMs > maxMs {
			result.Limits.TimeoutMs = maxMs
		}
	}

	if result.Sandbox == nil && c.DefaultSandbox != nil {
		sandboxCopy := *c.DefaultSandbox
		result.Sandbox = &sandboxCopy
	}

	return result
}
