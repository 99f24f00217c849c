package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects and aggregates counters for negotiation runs.
type Metrics struct {
	mu sync.Mutex

	// Counters
	runTotal  atomic.Int64
	runFailed atomic.Int64
	roundsRun atomic.Int64

	// Per-outcome metrics, keyed by terminal status or failure kind.
	outcomeMetrics map[string]*OutcomeMetrics

	durations    []time.Duration
	maxDurations int
}

// OutcomeMetrics represents counters for a specific negotiation outcome.
type OutcomeMetrics struct {
	count         atomic.Int64
	totalDuration atomic.Int64 // milliseconds
}

// NewMetrics creates a new metrics collector.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000
	}
	return &Metrics{
		outcomeMetrics: make(map[string]*OutcomeMetrics),
		durations:      make([]time.Duration, 0, maxDurations),
		maxDurations:   maxDurations,
	}
}

var globalMetrics = NewMetrics(1000)

// GlobalMetrics returns the global metrics instance.
func GlobalMetrics() *Metrics {
	return globalMetrics
}

// RecordRun records a started negotiation run.
func (m *Metrics) RecordRun() {
	m.runTotal.Add(1)
}

// RecordFailure records a failed run.
func (m *Metrics) RecordFailure() {
	m.runFailed.Add(1)
}

// RecordRound records a completed negotiation round.
func (m *Metrics) RecordRound() {
	m.roundsRun.Add(1)
}

// RecordOutcome records a terminal outcome and the run duration.
func (m *Metrics) RecordOutcome(outcome string, duration time.Duration) {
	m.mu.Lock()
	if len(m.durations) >= m.maxDurations {
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, duration)

	om, ok := m.outcomeMetrics[outcome]
	if !ok {
		om = &OutcomeMetrics{}
		m.outcomeMetrics[outcome] = om
	}
	m.mu.Unlock()

	om.count.Add(1)
	om.totalDuration.Add(duration.Milliseconds())
}

// GetRunTotal returns the total number of runs.
func (m *Metrics) GetRunTotal() int64 {
	return m.runTotal.Load()
}

// GetRunFailed returns the total number of failed runs.
func (m *Metrics) GetRunFailed() int64 {
	return m.runFailed.Load()
}

// GetRoundsRun returns the total number of rounds executed.
func (m *Metrics) GetRoundsRun() int64 {
	return m.roundsRun.Load()
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.runTotal.Store(0)
	m.runFailed.Store(0)
	m.roundsRun.Store(0)

	m.mu.Lock()
	m.outcomeMetrics = make(map[string]*OutcomeMetrics)
	m.durations = make([]time.Duration, 0, m.maxDurations)
	m.mu.Unlock()
}

// Snapshot returns a point-in-time snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcomes := make(map[string]*OutcomeSnapshot, len(m.outcomeMetrics))
	for name, om := range m.outcomeMetrics {
		count := om.count.Load()
		total := om.totalDuration.Load()
		var avg int64
		if count > 0 {
			avg = total / count
		}
		outcomes[name] = &OutcomeSnapshot{
			Count:           count,
			TotalDuration:   total,
			AverageDuration: avg,
		}
	}

	return &MetricsSnapshot{
		RunTotal:  m.runTotal.Load(),
		RunFailed: m.runFailed.Load(),
		RoundsRun: m.roundsRun.Load(),
		Outcomes:  outcomes,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	RunTotal  int64                       `json:"run_total"`
	RunFailed int64                       `json:"run_failed"`
	RoundsRun int64                       `json:"rounds_run"`
	Outcomes  map[string]*OutcomeSnapshot `json:"outcomes"`
}

// OutcomeSnapshot represents counters for a specific outcome. Durations are
// in milliseconds.
type OutcomeSnapshot struct {
	Count           int64 `json:"count"`
	TotalDuration   int64 `json:"total_duration_ms"`
	AverageDuration int64 `json:"average_duration_ms"`
}

// SuccessRate returns the success rate as a percentage (0-100).
func (s *MetricsSnapshot) SuccessRate() float64 {
	if s.RunTotal == 0 {
		return 100.0
	}
	return float64(s.RunTotal-s.RunFailed) / float64(s.RunTotal) * 100.0
}
