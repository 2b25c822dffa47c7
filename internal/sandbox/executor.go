// Package sandbox runs model-generated scripts against a table in an isolated
// child process. Every execution gets its own staging directory, which is
// removed on every exit path.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"dataanalyst/internal/config"
	"dataanalyst/internal/ingest"
	"dataanalyst/internal/logging"
	"dataanalyst/internal/tactile"
)

// Environment variables every script receives.
const (
	EnvDataPath  = "DATA_PATH"
	EnvImagePath = "OUTPUT_IMAGE_PATH"
)

// Options configure an Executor.
type Options struct {
	Mode            tactile.SandboxMode
	Interpreter     string
	InterpreterArgs []string
	DockerImage     string
	Timeout         time.Duration

	StagingDir string
	OutputDir  string
	ScriptName string
	DataFile   string
	ImageFile  string

	MaxConcurrent  int
	Limits         tactile.ResourceLimits
	AllowedEnvVars []string
}

// OptionsFromConfig converts the sandbox section of the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	sc := cfg.Sandbox
	return Options{
		Mode:            tactile.SandboxMode(sc.Mode),
		Interpreter:     sc.Interpreter,
		InterpreterArgs: sc.InterpreterArgs,
		DockerImage:     sc.DockerImage,
		Timeout:         cfg.GetExecutionTimeout(),
		StagingDir:      sc.StagingDir,
		OutputDir:       sc.OutputDir,
		ScriptName:      sc.ScriptName,
		DataFile:        sc.DataFile,
		ImageFile:       sc.ImageFile,
		MaxConcurrent:   sc.MaxConcurrent,
		Limits: tactile.ResourceLimits{
			MaxMemoryBytes: sc.MaxMemoryMB << 20,
			MaxCPUTimeMs:   sc.MaxCPUSeconds * 1000,
			MaxFileSize:    sc.MaxFileSizeMB << 20,
			MaxProcesses:   sc.MaxProcesses,
			MaxOutputBytes: sc.MaxOutputBytes,
		},
		AllowedEnvVars: sc.AllowedEnvVars,
	}
}

func (o *Options) applyDefaults() {
	if o.Mode == "" {
		o.Mode = tactile.SandboxNone
	}
	if o.Interpreter == "" {
		o.Interpreter = "python3"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.StagingDir == "" {
		o.StagingDir = filepath.Join(os.TempDir(), "analyst-staging")
	}
	if o.OutputDir == "" {
		o.OutputDir = filepath.Join(os.TempDir(), "analyst-output")
	}
	if o.ScriptName == "" {
		o.ScriptName = "script.py"
	}
	if o.DataFile == "" {
		o.DataFile = "data.csv"
	}
	if o.ImageFile == "" {
		o.ImageFile = "output.png"
	}
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 1
	}
}

// Executor stages a table and a script, runs the script with a deadline and
// collects its output and optional image.
type Executor struct {
	opts    Options
	runner  tactile.Executor
	slots   *semaphore.Weighted
	metrics *tactile.ExecutionMetrics
}

// New creates an Executor backed by the tactile executor for opts.Mode.
func New(opts Options) (*Executor, error) {
	opts.applyDefaults()

	tc := tactile.DefaultExecutorConfig()
	tc.DefaultTimeout = opts.Timeout
	tc.MaxTimeout = opts.Timeout
	tc.AllowedEnvironment = opts.AllowedEnvVars
	if opts.DockerImage != "" {
		tc.DockerDefaultImage = opts.DockerImage
	}
	if opts.Limits.MaxOutputBytes > 0 {
		tc.MaxOutputBytes = opts.Limits.MaxOutputBytes
	}

	runner, err := tactile.NewExecutorFactory(tc).CreateFromConfig(opts.Mode)
	if err != nil {
		return nil, fmt.Errorf("create %s executor: %w", opts.Mode, err)
	}
	return NewWithRunner(opts, runner)
}

// NewWithRunner creates an Executor around an existing tactile executor.
func NewWithRunner(opts Options, runner tactile.Executor) (*Executor, error) {
	opts.applyDefaults()

	for _, dir := range []*string{&opts.StagingDir, &opts.OutputDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", *dir, err)
		}
		*dir = abs
	}

	e := &Executor{
		opts:    opts,
		runner:  runner,
		slots:   semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		metrics: tactile.NewExecutionMetrics(),
	}
	if audited, ok := runner.(tactile.AuditedExecutor); ok {
		audited.SetAuditCallback(func(ev tactile.AuditEvent) {
			e.metrics.RecordEvent(ev)
			tactile.LogAuditEvent(ev)
		})
	}

	logging.SandboxDebug("executor ready: mode=%s interpreter=%s timeout=%s slots=%d staging=%s",
		opts.Mode, opts.Interpreter, opts.Timeout, opts.MaxConcurrent, opts.StagingDir)
	return e, nil
}

// Metrics returns aggregate statistics over all executions so far.
func (e *Executor) Metrics() tactile.ExecutionMetricsSnapshot {
	return e.metrics.Snapshot()
}

// Timeout returns the wall-clock deadline applied to each run.
func (e *Executor) Timeout() time.Duration { return e.opts.Timeout }

// Run executes code against table. The returned error is non-nil only when
// ctx ends before an execution slot is acquired; every other failure,
// including staging I/O, is reported through the Result.
func (e *Executor) Run(ctx context.Context, code string, table *ingest.Table) (*Result, error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for execution slot: %w", err)
	}
	defer e.slots.Release(1)

	id := uuid.NewString()
	res := &Result{ExecutionID: id, ExitStatus: -1}

	stage := filepath.Join(e.opts.StagingDir, "exec-"+id)
	if err := os.MkdirAll(stage, 0o700); err != nil {
		res.Stderr = fmt.Sprintf("failed to create staging directory: %v", err)
		logging.SandboxError("execution %s: %s", id, res.Stderr)
		return res, nil
	}
	defer func() {
		if err := os.RemoveAll(stage); err != nil {
			logging.SandboxError("execution %s: cleanup of %s failed: %v", id, stage, err)
			res.CleanupErr = err.Error()
		}
	}()

	dataPath := filepath.Join(stage, e.opts.DataFile)
	scriptPath := filepath.Join(stage, e.opts.ScriptName)
	imagePath := filepath.Join(stage, e.opts.ImageFile)

	if err := writeTable(dataPath, table); err != nil {
		res.Stderr = fmt.Sprintf("failed to stage data: %v", err)
		logging.SandboxError("execution %s: %s", id, res.Stderr)
		return res, nil
	}
	if err := os.WriteFile(scriptPath, []byte(code), 0o600); err != nil {
		res.Stderr = fmt.Sprintf("failed to stage script: %v", err)
		logging.SandboxError("execution %s: %s", id, res.Stderr)
		return res, nil
	}

	cmd := e.command(id, stage, scriptPath, dataPath, imagePath)
	logging.Sandbox("execution %s: running %s (%d bytes of code)", id, e.opts.Interpreter, len(code))

	out, err := e.runner.Execute(ctx, cmd)
	if err != nil {
		res.Stderr = fmt.Sprintf("execution rejected: %v", err)
		logging.SandboxError("execution %s: %s", id, res.Stderr)
		return res, nil
	}

	res.Stdout = out.Stdout
	res.Stderr = out.Stderr
	res.Duration = out.Duration
	res.Truncated = out.Truncated

	switch {
	case out.IsError():
		res.Stderr = joinNonEmpty(out.Stderr, out.Error)
	case out.TimedOut:
		res.TimedOut = true
		logging.SandboxWarn("execution %s: timed out after %s", id, e.opts.Timeout)
	case out.Killed:
		res.Stderr = joinNonEmpty(out.Stderr, "execution "+out.KillReason)
	case out.IsNonZeroExit():
		res.ExitStatus = out.ExitCode
		logging.SandboxWarn("execution %s: exit status %d:\n%s", id, out.ExitCode, ingest.Truncate(out.Output(), 2000))
	default:
		res.ExitStatus = out.ExitCode
	}

	if res.Succeeded() {
		promoted, err := e.promoteImage(imagePath, id)
		if err != nil {
			logging.SandboxWarn("execution %s: image not kept: %v", id, err)
		}
		res.ImagePath = promoted
	}

	logging.Sandbox("execution %s: exit=%d timedOut=%v image=%v duration=%s",
		id, res.ExitStatus, res.TimedOut, res.ImagePath != "", res.Duration)
	return res, nil
}

func (e *Executor) command(id, stage, scriptPath, dataPath, imagePath string) tactile.Command {
	limits := e.opts.Limits
	limits.TimeoutMs = e.opts.Timeout.Milliseconds()
	noNetwork := false
	limits.NetworkAllowed = &noNetwork

	sandbox := &tactile.SandboxConfig{Mode: e.opts.Mode}
	if e.opts.Mode == tactile.SandboxDocker {
		sandbox.Image = e.opts.DockerImage
		sandbox.ReadOnlyRoot = true
		sandbox.AllowedPaths = []string{stage}
		sandbox.NoNewPrivileges = true
		sandbox.DropCapabilities = []string{"ALL"}
		// Run as the host user so staged files stay removable.
		if uid := os.Getuid(); uid >= 0 {
			sandbox.User = fmt.Sprintf("%d:%d", uid, os.Getgid())
		}
	}

	args := append(append([]string(nil), e.opts.InterpreterArgs...), scriptPath)
	return tactile.Command{
		Binary:           e.opts.Interpreter,
		Arguments:        args,
		WorkingDirectory: stage,
		Environment: []string{
			EnvDataPath + "=" + dataPath,
			EnvImagePath + "=" + imagePath,
			"MPLBACKEND=Agg",
			"MPLCONFIGDIR=" + filepath.Join(stage, ".matplotlib"),
			"HOME=" + stage,
		},
		Limits:    &limits,
		Sandbox:   sandbox,
		RequestID: id,
	}
}

// promoteImage moves a produced image out of the staging directory so it
// survives cleanup. It returns "" when the script wrote no image.
func (e *Executor) promoteImage(src, id string) (string, error) {
	info, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return "", fmt.Errorf("%s is not a non-empty regular file", filepath.Base(src))
	}

	if err := os.MkdirAll(e.opts.OutputDir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(e.opts.OutputDir, id+filepath.Ext(src))
	if err := os.Rename(src, dst); err != nil {
		// Staging and output may live on different filesystems.
		if err := copyFile(src, dst); err != nil {
			return "", err
		}
	}
	logging.SandboxDebug("execution %s: image promoted to %s", id, dst)
	return dst, nil
}

func writeTable(path string, table *ingest.Table) error {
	if table == nil {
		return fmt.Errorf("no table to stage")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := table.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n" + b
}
