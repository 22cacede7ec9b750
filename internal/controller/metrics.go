package controller

import (
	"sync"
	"time"

	"drover/internal/resource"
)

// Metrics tracks reconciliation outcomes per phase.
//
// Instances are constructor-injected into a Controller; there is no global
// registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	mu sync.RWMutex

	perPhase map[resource.Phase]*phaseMetrics

	totalAttempts          int64
	totalSuccesses         int64
	totalTransientFailures int64
	totalTerminalFailures  int64
}

type phaseMetrics struct {
	Attempts          int64
	Successes         int64
	TransientFailures int64
	TerminalFailures  int64
	LastAttemptAt     time.Time
	LastSuccessAt     time.Time
	LastFailureAt     time.Time
}

// NewMetrics creates an empty metrics recorder.
func NewMetrics() *Metrics {
	return &Metrics{perPhase: make(map[resource.Phase]*phaseMetrics)}
}

func (m *Metrics) phase(p resource.Phase) *phaseMetrics {
	pm, ok := m.perPhase[p]
	if !ok {
		pm = &phaseMetrics{}
		m.perPhase[p] = pm
	}
	return pm
}

func (m *Metrics) recordAttempt(p resource.Phase) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pm := m.phase(p)
	pm.Attempts++
	pm.LastAttemptAt = time.Now()
	m.totalAttempts++
}

func (m *Metrics) recordSuccess(p resource.Phase) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pm := m.phase(p)
	pm.Successes++
	pm.LastSuccessAt = time.Now()
	m.totalSuccesses++
}

func (m *Metrics) recordTransientFailure(p resource.Phase) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pm := m.phase(p)
	pm.TransientFailures++
	pm.LastFailureAt = time.Now()
	m.totalTransientFailures++
}

func (m *Metrics) recordTerminalFailure(p resource.Phase) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pm := m.phase(p)
	pm.TerminalFailures++
	pm.LastFailureAt = time.Now()
	m.totalTerminalFailures++
}

// Summary is a point-in-time view of recorded metrics.
type Summary struct {
	TotalAttempts          int64                `json:"total_attempts"`
	TotalSuccesses         int64                `json:"total_successes"`
	TotalTransientFailures int64                `json:"total_transient_failures"`
	TotalTerminalFailures  int64                `json:"total_terminal_failures"`
	PerPhase               []PhaseMetricView    `json:"per_phase"`
}

// PhaseMetricView is a read-only view of one phase's counters.
type PhaseMetricView struct {
	Phase             resource.Phase `json:"phase"`
	Attempts          int64          `json:"attempts"`
	Successes         int64          `json:"successes"`
	TransientFailures int64          `json:"transient_failures"`
	TerminalFailures  int64          `json:"terminal_failures"`
	LastAttemptAt     time.Time      `json:"last_attempt_at,omitempty"`
	LastSuccessAt     time.Time      `json:"last_success_at,omitempty"`
	LastFailureAt     time.Time      `json:"last_failure_at,omitempty"`
}

// Summary returns a snapshot of all counters.
func (m *Metrics) Summary() Summary {
	if m == nil {
		return Summary{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		TotalAttempts:          m.totalAttempts,
		TotalSuccesses:         m.totalSuccesses,
		TotalTransientFailures: m.totalTransientFailures,
		TotalTerminalFailures:  m.totalTerminalFailures,
	}
	for p, pm := range m.perPhase {
		s.PerPhase = append(s.PerPhase, PhaseMetricView{
			Phase:             p,
			Attempts:          pm.Attempts,
			Successes:         pm.Successes,
			TransientFailures: pm.TransientFailures,
			TerminalFailures:  pm.TerminalFailures,
			LastAttemptAt:     pm.LastAttemptAt,
			LastSuccessAt:     pm.LastSuccessAt,
			LastFailureAt:     pm.LastFailureAt,
		})
	}
	return s
}
