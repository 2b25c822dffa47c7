// Package logging provides config-driven categorized logging for the analyst.
// Every category is a named child of one zap logger; a disabled category gets a
// no-op logger so call sites never need to check.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config loading
	CategoryAgent      Category = "agent"      // Orchestrator dispatch and response assembly
	CategoryIngest     Category = "ingest"     // Table, document and image loading
	CategorySummary    Category = "summary"    // Data profile generation
	CategoryExtract    Category = "extract"    // Code block extraction and validation
	CategorySandbox    Category = "sandbox"    // Staging, execution slots, cleanup
	CategoryTactile    Category = "tactile"    // Child process execution
	CategoryPerception Category = "perception" // Remote model calls
	CategorySession    Category = "session"    // Conversation persistence
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // optional file sink, in addition to stderr
	Categories map[string]bool // explicit enable/disable; missing means enabled
	Quiet      bool            // drop the stderr sink (file only)
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu       sync.RWMutex
	root     = zap.NewNop()
	enabled  map[string]bool
	loggers  = make(map[Category]*Logger)
	closeFns []func() error
)

// Initialize builds the root zap logger from options. It may be called again
// to reconfigure; previously returned category loggers are invalidated.
func Initialize(opts Options) error {
	level := zap.NewAtomicLevelAt(parseLevel(opts.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(opts.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var cores []zapcore.Core
	var closers []func() error
	if !opts.Quiet {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		closers = append(closers, f.Close)
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
	}

	var logger *zap.Logger
	if len(cores) == 0 {
		logger = zap.NewNop()
	} else {
		logger = zap.New(zapcore.NewTee(cores...))
	}

	cats := make(map[string]bool, len(opts.Categories))
	for k, v := range opts.Categories {
		cats[k] = v
	}

	mu.Lock()
	old := closeFns
	root = logger
	enabled = cats
	loggers = make(map[Category]*Logger)
	closeFns = closers
	mu.Unlock()

	for _, fn := range old {
		_ = fn()
	}

	Get(CategoryBoot).Debug("logging initialized: level=%s format=%s file=%q", level.String(), opts.Format, opts.File)
	return nil
}

// SetLogger installs an already-built zap logger as the root (tests, embedding).
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	root = l
	enabled = nil
	loggers = make(map[Category]*Logger)
	mu.Unlock()
}

// Root returns the underlying zap logger.
func Root() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Sync flushes buffered entries and closes file sinks.
func Sync() error {
	mu.Lock()
	l := root
	fns := closeFns
	closeFns = nil
	mu.Unlock()

	err := l.Sync()
	for _, fn := range fns {
		_ = fn()
	}
	// stderr sync returns EINVAL on some platforms
	if err != nil && strings.Contains(err.Error(), "invalid argument") {
		return nil
	}
	return err
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if enabled == nil {
		return true
	}
	on, ok := enabled[string(category)]
	if !ok {
		return true
	}
	return on
}

// Get returns (or creates) the logger for a category.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    root.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a logger carrying structured key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// =============================================================================
// Category helpers
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }

func Agent(format string, args ...interface{})      { Get(CategoryAgent).Info(format, args...) }
func AgentDebug(format string, args ...interface{}) { Get(CategoryAgent).Debug(format, args...) }
func AgentWarn(format string, args ...interface{})  { Get(CategoryAgent).Warn(format, args...) }
func AgentError(format string, args ...interface{}) { Get(CategoryAgent).Error(format, args...) }

func Ingest(format string, args ...interface{})      { Get(CategoryIngest).Info(format, args...) }
func IngestDebug(format string, args ...interface{}) { Get(CategoryIngest).Debug(format, args...) }
func IngestWarn(format string, args ...interface{})  { Get(CategoryIngest).Warn(format, args...) }

func SummaryDebug(format string, args ...interface{}) { Get(CategorySummary).Debug(format, args...) }

func ExtractDebug(format string, args ...interface{}) { Get(CategoryExtract).Debug(format, args...) }
func ExtractWarn(format string, args ...interface{})  { Get(CategoryExtract).Warn(format, args...) }

func Sandbox(format string, args ...interface{})      { Get(CategorySandbox).Info(format, args...) }
func SandboxDebug(format string, args ...interface{}) { Get(CategorySandbox).Debug(format, args...) }
func SandboxWarn(format string, args ...interface{})  { Get(CategorySandbox).Warn(format, args...) }
func SandboxError(format string, args ...interface{}) { Get(CategorySandbox).Error(format, args...) }

func Tactile(format string, args ...interface{})      { Get(CategoryTactile).Info(format, args...) }
func TactileDebug(format string, args ...interface{}) { Get(CategoryTactile).Debug(format, args...) }
func TactileWarn(format string, args ...interface{})  { Get(CategoryTactile).Warn(format, args...) }
func TactileError(format string, args ...interface{}) { Get(CategoryTactile).Error(format, args...) }

func Perception(format string, args ...interface{})      { Get(CategoryPerception).Info(format, args...) }
func PerceptionDebug(format string, args ...interface{}) { Get(CategoryPerception).Debug(format, args...) }
func PerceptionWarn(format string, args ...interface{})  { Get(CategoryPerception).Warn(format, args...) }
func PerceptionError(format string, args ...interface{}) { Get(CategoryPerception).Error(format, args...) }

func Session(format string, args ...interface{})      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }
func SessionError(format string, args ...interface{}) { Get(CategorySession).Error(format, args...) }

// =============================================================================
// Timing
// =============================================================================

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
