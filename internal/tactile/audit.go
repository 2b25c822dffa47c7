package tactile

import (
	"sync"
	"time"

	"dataanalyst/internal/logging"
)

// ExecutionMetrics tracks aggregate execution statistics from audit events.
type ExecutionMetrics struct {
	mu sync.RWMutex

	totalExecutions      int64
	successfulExecutions int64
	nonZeroExecutions    int64
	failedExecutions     int64
	killedExecutions     int64
	timedOutExecutions   int64

	totalDurationMs int64
	totalCPUTimeMs  int64
	peakMemoryBytes int64

	lastEventTime time.Time
}

// NewExecutionMetrics creates a new metrics tracker.
func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{}
}

// RecordEvent updates metrics based on an audit event.
func (m *ExecutionMetrics) RecordEvent(event AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastEventTime = event.Timestamp

	switch event.Type {
	case AuditEventStart:
		m.totalExecutions++

	case AuditEventComplete:
		if event.Result == nil {
			return
		}
		if event.Result.ExitCode == 0 {
			m.successfulExecutions++
		} else {
			m.nonZeroExecutions++
		}
		m.totalDurationMs += event.Result.Duration.Milliseconds()
		if ru := event.Result.ResourceUsage; ru != nil {
			m.totalCPUTimeMs += ru.TotalCPUTimeMs()
			if ru.MaxRSSBytes > m.peakMemoryBytes {
				m.peakMemoryBytes = ru.MaxRSSBytes
			}
		}

	case AuditEventKilled:
		m.killedExecutions++
		if event.Result != nil {
			if event.Result.TimedOut {
				m.timedOutExecutions++
			}
			m.totalDurationMs += event.Result.Duration.Milliseconds()
		}

	case AuditEventError:
		m.failedExecutions++
	}
}

// ExecutionMetricsSnapshot is a point-in-time snapshot of metrics.
type ExecutionMetricsSnapshot struct {
	TotalExecutions      int64     `json:"total_executions"`
	SuccessfulExecutions int64     `json:"successful_executions"`
	NonZeroExecutions    int64     `json:"non_zero_executions"`
	FailedExecutions     int64     `json:"failed_executions"`
	KilledExecutions     int64     `json:"killed_executions"`
	TimedOutExecutions   int64     `json:"timed_out_executions"`
	TotalDurationMs      int64     `json:"total_duration_ms"`
	TotalCPUTimeMs       int64     `json:"total_cpu_time_ms"`
	PeakMemoryBytes      int64     `json:"peak_memory_bytes"`
	LastEventTime        time.Time `json:"last_event_time"`
	SuccessRate          float64   `json:"success_rate"`
	AvgDurationMs        float64   `json:"avg_duration_ms"`
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *ExecutionMetrics) Snapshot() ExecutionMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	successRate := float64(0)
	avgDuration := float64(0)
	finished := m.successfulExecutions + m.nonZeroExecutions + m.killedExecutions
	if finished > 0 {
		successRate = float64(m.successfulExecutions) / float64(finished)
		avgDuration = float64(m.totalDurationMs) / float64(finished)
	}

	return ExecutionMetricsSnapshot{
		TotalExecutions:      m.totalExecutions,
		SuccessfulExecutions: m.successfulExecutions,
		NonZeroExecutions:    m.nonZeroExecutions,
		FailedExecutions:     m.failedExecutions,
		KilledExecutions:     m.killedExecutions,
		TimedOutExecutions:   m.timedOutExecutions,
		TotalDurationMs:      m.totalDurationMs,
		TotalCPUTimeMs:       m.totalCPUTimeMs,
		PeakMemoryBytes:      m.peakMemoryBytes,
		LastEventTime:        m.lastEventTime,
		SuccessRate:          successRate,
		AvgDurationMs:        avgDuration,
	}
}

// LogAuditEvent writes an audit event to the tactile log category.
func LogAuditEvent(event AuditEvent) {
	switch event.Type {
	case AuditEventStart:
		logging.TactileDebug("[audit] %s start %s request=%s", event.ExecutorName, event.Command.Binary, event.Command.RequestID)
	case AuditEventComplete:
		if r := event.Result; r != nil {
			logging.Tactile("[audit] %s complete request=%s exit=%d duration=%s",
				event.ExecutorName, event.Command.RequestID, r.ExitCode, r.Duration)
		}
	case AuditEventKilled:
		if r := event.Result; r != nil {
			logging.TactileWarn("[audit] %s killed request=%s reason=%s", event.ExecutorName, event.Command.RequestID, r.KillReason)
		}
	case AuditEventError:
		if r := event.Result; r != nil {
			logging.TactileError("[audit] %s error request=%s: %s", event.ExecutorName, event.Command.RequestID, r.Error)
		}
	}
}
