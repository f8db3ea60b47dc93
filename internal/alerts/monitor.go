// Package alerts watches the service's own vitals: recall latency, heap
// use, error rate, and tool throughput. Breaches fire bounded, cooled-down
// alerts that surface on the health endpoint; nothing pages, nothing
// leaves the process.
package alerts

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/metrics"
)

// Level is the alert severity.
type Level string

const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Watched metrics.
const (
	MetricResponseTime = "response_time_ms"
	MetricHeap         = "heap_mb"
	MetricErrorRate    = "error_rate"
	MetricThroughput   = "throughput_per_min"
)

// Alert is one threshold breach.
type Alert struct {
	ID         string     `json:"id"`
	Metric     string     `json:"metric"`
	Level      Level      `json:"level"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	Message    string     `json:"message"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// Monitor evaluates thresholds on demand. One alert is active per metric
// at a time; re-fires of the same metric and level inside the cooldown
// window are suppressed. History is a bounded ring.
type Monitor struct {
	cfg    config.AlertConfig
	logger *slog.Logger

	mu        sync.Mutex
	active    map[string]*Alert
	history   []Alert
	lastFired map[string]time.Time
	seq       int64

	lastCalls int64
	lastCheck time.Time
}

// NewMonitor creates an alert monitor.
func NewMonitor(cfg config.AlertConfig, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:       cfg,
		logger:    logger,
		active:    make(map[string]*Alert),
		lastFired: make(map[string]time.Time),
	}
}

// Check evaluates all watched metrics against the snapshot and returns any
// newly fired alerts.
func (m *Monitor) Check(snap metrics.Snapshot) []Alert {
	now := time.Now().UTC()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapMB := float64(ms.HeapAlloc) / (1024 * 1024)

	m.mu.Lock()
	defer m.mu.Unlock()

	var fired []Alert
	fired = append(fired, m.evalHighLocked(now, MetricResponseTime, snap.RecallLatencyMs,
		m.cfg.ResponseTimeWarnMs, m.cfg.ResponseTimeCritMs)...)
	fired = append(fired, m.evalHighLocked(now, MetricHeap, heapMB,
		m.cfg.MemoryWarnMB, m.cfg.MemoryCritMB)...)
	fired = append(fired, m.evalHighLocked(now, MetricErrorRate, snap.ErrorRate(),
		m.cfg.ErrorRateWarn, m.cfg.ErrorRateCrit)...)

	// Throughput needs a previous sample to compute a rate.
	calls := snap.ToolCalls()
	if !m.lastCheck.IsZero() {
		if mins := now.Sub(m.lastCheck).Minutes(); mins > 0 {
			rate := float64(calls-m.lastCalls) / mins
			fired = append(fired, m.evalLowLocked(now, MetricThroughput, rate,
				m.cfg.ThroughputWarn, m.cfg.ThroughputCrit)...)
		}
	}
	m.lastCalls = calls
	m.lastCheck = now

	return fired
}

// evalHighLocked handles metrics that alert when too high.
func (m *Monitor) evalHighLocked(now time.Time, metric string, value, warn, crit float64) []Alert {
	switch {
	case crit > 0 && value >= crit:
		return m.fireLocked(now, metric, LevelCritical, value, crit)
	case warn > 0 && value >= warn:
		return m.fireLocked(now, metric, LevelWarning, value, warn)
	default:
		m.resolveLocked(now, metric, "monitor")
		return nil
	}
}

// evalLowLocked handles metrics that alert when too low. Negative
// thresholds disable the check.
func (m *Monitor) evalLowLocked(now time.Time, metric string, value, warn, crit float64) []Alert {
	switch {
	case crit >= 0 && value <= crit:
		return m.fireLocked(now, metric, LevelCritical, value, crit)
	case warn >= 0 && value < warn:
		return m.fireLocked(now, metric, LevelWarning, value, warn)
	default:
		m.resolveLocked(now, metric, "monitor")
		return nil
	}
}

func (m *Monitor) fireLocked(now time.Time, metric string, level Level, value, threshold float64) []Alert {
	cooldownKey := metric + "/" + string(level)
	if last, ok := m.lastFired[cooldownKey]; ok && now.Sub(last) < m.cfg.Cooldown {
		return nil
	}
	// An identical active alert stays active rather than re-firing.
	if cur, ok := m.active[metric]; ok && cur.Level == level {
		return nil
	}

	m.seq++
	alert := Alert{
		ID:        fmt.Sprintf("%s-%s-%d", metric, level, m.seq),
		Metric:    metric,
		Level:     level,
		Value:     value,
		Threshold: threshold,
		Message:   fmt.Sprintf("%s at %.2f breached %s threshold %.2f", metric, value, level, threshold),
		FiredAt:   now,
	}
	m.active[metric] = &alert
	m.lastFired[cooldownKey] = now
	m.pushHistoryLocked(alert)

	if level == LevelCritical {
		m.logger.Error("alert fired", "metric", metric, "level", level, "value", value, "threshold", threshold)
	} else {
		m.logger.Warn("alert fired", "metric", metric, "level", level, "value", value, "threshold", threshold)
	}
	return []Alert{alert}
}

func (m *Monitor) resolveLocked(now time.Time, metric, by string) {
	cur, ok := m.active[metric]
	if !ok {
		return
	}
	resolved := now
	cur.ResolvedAt = &resolved
	cur.ResolvedBy = by
	// The history ring holds copies made at fire time; stamp the matching
	// entry so resolution attribution survives the alert leaving active.
	for i := range m.history {
		if m.history[i].ID == cur.ID {
			m.history[i].ResolvedAt = &resolved
			m.history[i].ResolvedBy = by
			break
		}
	}
	delete(m.active, metric)
	m.logger.Info("alert resolved", "metric", metric, "level", cur.Level, "by", by)
}

func (m *Monitor) pushHistoryLocked(a Alert) {
	limit := m.cfg.History
	if limit <= 0 {
		limit = 100
	}
	m.history = append(m.history, a)
	if len(m.history) > limit {
		m.history = m.history[len(m.history)-limit:]
	}
}

// Active returns the currently firing alerts.
func (m *Monitor) Active() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	return out
}

// History returns a copy of the alert ring, oldest first.
func (m *Monitor) History() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.history...)
}

// Resolve manually clears the active alert for a metric, recording who
// resolved it. An empty by is attributed to "operator".
func (m *Monitor) Resolve(metric, by string) bool {
	if by == "" {
		by = "operator"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[metric]; !ok {
		return false
	}
	m.resolveLocked(time.Now().UTC(), metric, by)
	return true
}
