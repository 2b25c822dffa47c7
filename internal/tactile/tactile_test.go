//go:build !windows

package tactile

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDirectExecutor_Execute(t *testing.T) {
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "echo",
		Arguments: []string{"hello"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !result.Success {
		t.Errorf("Expected success, got failure: %s", result.Error)
	}
	if result.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Output(), "hello") {
		t.Errorf("Expected output to contain 'hello', got: %s", result.Output())
	}
}

func TestDirectExecutor_Timeout(t *testing.T) {
	executor := NewDirectExecutor()

	cmd := Command{
		Binary:    "sleep",
		Arguments: []string{"10"},
		Limits:    &ResourceLimits{TimeoutMs: 500},
	}

	start := time.Now()
	result, err := executor.Execute(context.Background(), cmd)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Killed || !result.TimedOut {
		t.Errorf("Expected command to be killed by timeout, got killed=%v timedOut=%v", result.Killed, result.TimedOut)
	}
	if !strings.Contains(result.KillReason, "timeout") {
		t.Errorf("Expected kill reason to mention timeout, got: %s", result.KillReason)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Timeout didn't work, elapsed: %v", elapsed)
	}
}

// processGone reports whether pid no longer runs. Zombies count as gone:
// an orphan may wait for a reaper that never comes inside a container.
func processGone(pid int) bool {
	if runtime.GOOS == "linux" {
		data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
		if err != nil {
			return true
		}
		fields := strings.Fields(string(data))
		return len(fields) > 2 && fields[2] == "Z"
	}
	return syscall.Kill(pid, 0) != nil
}

func TestDirectExecutor_TimeoutKillsProcessGroup(t *testing.T) {
	executor := NewDirectExecutor()
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")

	result, err := executor.Execute(context.Background(), Command{
		Binary:           "sh",
		Arguments:        []string{"-c", "sleep 30 & echo $! > child.pid; wait"},
		WorkingDirectory: dir,
		Limits:           &ResourceLimits{TimeoutMs: 300},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.TimedOut {
		t.Fatalf("Expected timeout, got exit=%d", result.ExitCode)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("child pid not written: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("bad pid %q: %v", data, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !processGone(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("grandchild %d still running after timeout", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDirectExecutor_NonZeroExit(t *testing.T) {
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo boom >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// Success should be true (command ran)
	if !result.Success {
		t.Errorf("Expected success=true for non-zero exit, got: %s", result.Error)
	}
	if result.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", result.ExitCode)
	}
	if !result.IsNonZeroExit() {
		t.Errorf("Expected IsNonZeroExit")
	}
	if !strings.Contains(result.Stderr, "boom") {
		t.Errorf("Expected stderr to be captured, got: %q", result.Stderr)
	}
}

func TestDirectExecutor_InvalidCommand(t *testing.T) {
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{Binary: "nonexistent_command_12345"})
	if err != nil {
		t.Fatalf("Execute returned error instead of result: %v", err)
	}
	if result.Success {
		t.Errorf("Expected failure for invalid command")
	}
	if result.Error == "" {
		t.Errorf("Expected error message for invalid command")
	}
}

func TestDirectExecutor_WorkingDirectory(t *testing.T) {
	executor := NewDirectExecutor()
	dir := t.TempDir()

	result, err := executor.Execute(context.Background(), Command{
		Binary:           "pwd",
		WorkingDirectory: dir,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(result.Stdout))
	if got != want {
		t.Errorf("Expected working directory %s, got: %s", want, got)
	}
}

func TestDirectExecutor_Environment(t *testing.T) {
	t.Setenv("ANALYST_TEST_SECRET", "leak")
	config := DefaultExecutorConfig()
	config.AllowedEnvironment = []string{"PATH"}
	executor := NewDirectExecutorWithConfig(config)

	result, err := executor.Execute(context.Background(), Command{
		Binary:      "sh",
		Arguments:   []string{"-c", "echo \"data=$DATA_PATH secret=$ANALYST_TEST_SECRET\""},
		Environment: []string{"DATA_PATH=/stage/data.csv"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if got := strings.TrimSpace(result.Stdout); got != "data=/stage/data.csv secret=" {
		t.Errorf("Unexpected environment seen by child: %q", got)
	}
}

func TestDirectExecutor_OutputTruncation(t *testing.T) {
	config := DefaultExecutorConfig()
	config.MaxOutputBytes = 50
	config.DefaultLimits.MaxOutputBytes = 50
	executor := NewDirectExecutorWithConfig(config)

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo " + strings.Repeat("A", 100)},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !result.Truncated {
		t.Errorf("Expected output to be truncated, got output of len=%d", len(result.Stdout))
	}
	if len(result.Stdout) != 50 {
		t.Errorf("Expected 50 bytes kept, got %d", len(result.Stdout))
	}
	if result.TruncatedBytes == 0 {
		t.Errorf("Expected truncated bytes > 0")
	}
}

func TestDirectExecutor_ContextCancellation(t *testing.T) {
	executor := NewDirectExecutor()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := executor.Execute(ctx, Command{Binary: "sleep", Arguments: []string{"10"}})
	elapsed := time.Since(start)
	<-done

	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Killed || result.TimedOut {
		t.Errorf("Expected cancellation kill, got killed=%v timedOut=%v", result.Killed, result.TimedOut)
	}
	if !strings.Contains(result.KillReason, "canceled") {
		t.Errorf("Expected kill reason to mention canceled, got: %s", result.KillReason)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Cancellation didn't work quickly, elapsed: %v", elapsed)
	}
}

func TestDirectExecutor_FileSizeLimit(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("rlimits are only applied on Linux")
	}
	executor := NewDirectExecutor()
	dir := t.TempDir()

	// The sleep gives prlimit time to land before the write starts.
	result, err := executor.Execute(context.Background(), Command{
		Binary:           "sh",
		Arguments:        []string{"-c", "sleep 0.2; head -c 65536 /dev/zero > big.bin"},
		WorkingDirectory: dir,
		Limits:           &ResourceLimits{TimeoutMs: 5000, MaxFileSize: 4096},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.ExitCode == 0 {
		t.Errorf("Expected write beyond RLIMIT_FSIZE to fail")
	}

	info, err := os.Stat(filepath.Join(dir, "big.bin"))
	if err == nil && info.Size() > 4096 {
		t.Errorf("File grew past limit: %d bytes", info.Size())
	}
}

func TestDirectExecutor_Validate(t *testing.T) {
	executor := NewDirectExecutor()

	if err := executor.Validate(Command{Binary: "echo"}); err != nil {
		t.Errorf("Expected valid command to pass validation: %v", err)
	}
	if err := executor.Validate(Command{Binary: ""}); err == nil {
		t.Errorf("Expected empty binary to fail validation")
	}
	cmd := Command{Binary: "echo", Sandbox: &SandboxConfig{Mode: SandboxDocker}}
	if err := executor.Validate(cmd); err == nil {
		t.Errorf("Expected Docker sandbox to fail validation on DirectExecutor")
	}
}

func TestDirectExecutor_AuditEvents(t *testing.T) {
	metrics := NewExecutionMetrics()
	var types []AuditEventType

	executor := NewDirectExecutor()
	executor.SetAuditCallback(func(e AuditEvent) {
		types = append(types, e.Type)
		metrics.RecordEvent(e)
	})

	ctx := context.Background()
	_, _ = executor.Execute(ctx, Command{Binary: "true"})
	_, _ = executor.Execute(ctx, Command{Binary: "false"})
	_, _ = executor.Execute(ctx, Command{Binary: "sleep", Arguments: []string{"5"}, Limits: &ResourceLimits{TimeoutMs: 100}})

	want := []AuditEventType{
		AuditEventStart, AuditEventComplete,
		AuditEventStart, AuditEventComplete,
		AuditEventStart, AuditEventKilled,
	}
	if len(types) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}

	snap := metrics.Snapshot()
	if snap.TotalExecutions != 3 || snap.SuccessfulExecutions != 1 || snap.NonZeroExecutions != 1 || snap.TimedOutExecutions != 1 {
		t.Errorf("Unexpected metrics: %+v", snap)
	}
}

func TestCommand_CommandString(t *testing.T) {
	cmd := Command{Binary: "python3", Arguments: []string{"-I", "script.py"}}
	if str := cmd.CommandString(); str != "python3 -I script.py" {
		t.Errorf("Unexpected command string: %s", str)
	}

	cmd = Command{Binary: "ls"}
	if cmd.CommandString() != "ls" {
		t.Errorf("Unexpected command string for no args: %s", cmd.CommandString())
	}
}

func TestExecutionResult_Helpers(t *testing.T) {
	result := &ExecutionResult{Success: true}
	if result.IsError() {
		t.Errorf("Expected IsError=false for successful result")
	}

	result = &ExecutionResult{Success: false, Error: "something failed"}
	if !result.IsError() {
		t.Errorf("Expected IsError=true for failed result")
	}

	result = &ExecutionResult{Success: true, ExitCode: 1, Killed: true}
	if result.IsNonZeroExit() {
		t.Errorf("Expected IsNonZeroExit=false for killed command")
	}

	result = &ExecutionResult{Stdout: "stdout", Stderr: "stderr"}
	if result.Output() != "stdout\nstderr" {
		t.Errorf("Unexpected Output: %q", result.Output())
	}
}

func TestExecutorConfig_Merge(t *testing.T) {
	config := DefaultExecutorConfig()
	config.MaxTimeout = time.Minute
	config.DefaultSandbox = &SandboxConfig{Mode: SandboxNone}

	limits := &ResourceLimits{TimeoutMs: int64(time.Hour / time.Millisecond)}
	merged := config.Merge(Command{Binary: "x", Limits: limits})

	if merged.WorkingDirectory != "." {
		t.Errorf("Expected default working dir, got %q", merged.WorkingDirectory)
	}
	if merged.Limits.TimeoutMs != 60000 {
		t.Errorf("Expected timeout capped at 60000ms, got %d", merged.Limits.TimeoutMs)
	}
	if merged.Limits.MaxOutputBytes != config.DefaultLimits.MaxOutputBytes {
		t.Errorf("Expected default output cap, got %d", merged.Limits.MaxOutputBytes)
	}
	if limits.TimeoutMs != int64(time.Hour/time.Millisecond) {
		t.Errorf("Merge mutated the caller's limits")
	}
	if merged.Sandbox == nil || merged.Sandbox.Mode != SandboxNone {
		t.Errorf("Expected default sandbox to be applied")
	}
}

func TestDockerExecutor_BuildArgs(t *testing.T) {
	e := &DockerExecutor{config: DefaultExecutorConfig(), dockerPath: "docker", available: true}
	cmd := Command{
		Binary:           "python3",
		Arguments:        []string{"script.py"},
		WorkingDirectory: "/stage/exec-1",
		Environment:      []string{"MPLBACKEND=Agg"},
		Sandbox: &SandboxConfig{
			Mode:         SandboxDocker,
			Image:        "python:3.12-slim",
			ReadOnlyRoot: true,
			AllowedPaths: []string{"/stage/exec-1"},
		},
		Limits: &ResourceLimits{MaxMemoryBytes: 1 << 30, MaxProcesses: 64},
	}

	args := strings.Join(e.buildDockerArgs("analyst-exec-1", cmd), " ")
	for _, want := range []string{
		"run --rm --name analyst-exec-1",
		"--network none",
		"--read-only",
		"--tmpfs /tmp:size=100m",
		"-v /stage/exec-1:/stage/exec-1:rw",
		"-w /stage/exec-1",
		"-e MPLBACKEND=Agg",
		"--memory 1073741824",
		"--pids-limit 64",
		"python:3.12-slim python3 script.py",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("docker args missing %q: %s", want, args)
		}
	}
}

func TestExecutorFactory(t *testing.T) {
	factory := NewExecutorFactory(DefaultExecutorConfig())

	executor, err := factory.CreateFromConfig(SandboxNone)
	if err != nil {
		t.Fatalf("CreateFromConfig(none) failed: %v", err)
	}
	if executor.Name() != "direct" {
		t.Errorf("Expected direct executor, got %s", executor.Name())
	}

	if _, err := factory.CreateFromConfig("firejail"); err == nil {
		t.Errorf("Expected unknown mode to fail")
	}
}

func TestLimitedWriter(t *testing.T) {
	var sb strings.Builder
	lw := &limitedWriter{w: &sb, max: 5}

	n, err := lw.Write([]byte("abc"))
	if n != 3 || err != nil {
		t.Fatalf("first write: n=%d err=%v", n, err)
	}
	n, _ = lw.Write([]byte("defg"))
	if n != 4 {
		t.Errorf("Expected write to report full length, got %d", n)
	}
	if sb.String() != "abcde" || lw.discarded != 2 || !lw.truncated {
		t.Errorf("Unexpected state: %q discarded=%d truncated=%v", sb.String(), lw.discarded, lw.truncated)
	}
}
