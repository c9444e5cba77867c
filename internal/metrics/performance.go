// Package metrics owns per-provider performance statistics and the bounded
// request-metric ring. Both are pure bookkeeping: they never call a bridge
// or block on I/O.
package metrics

import (
	"math"
	"sync"
	"time"
)

const costCeilingPerMillionTokens = 20.0

// PerformanceMetrics is one provider's rolling statistics. All fields are
// protected by mu; callers never read the struct fields directly.
type PerformanceMetrics struct {
	mu sync.RWMutex

	avgResponseTimeMs float64
	hasLatencySample  bool
	successRate       float64
	hasSuccessSample  bool
	errorRate         float64

	costPerInputToken  float64
	costPerOutputToken float64
	priorityScore      float64

	lastRequestTime time.Time
	lastSuccessTime time.Time
	lastErrorTime   time.Time
}

// NewPerformanceMetrics seeds a metrics record from a provider's configured
// seed estimates, used before any real samples exist.
func NewPerformanceMetrics(seedAvgResponseTimeMs, seedSuccessRate, costPerInputToken, costPerOutputToken, priorityScore float64) *PerformanceMetrics {
	m := &PerformanceMetrics{
		costPerInputToken:  costPerInputToken,
		costPerOutputToken: costPerOutputToken,
		priorityScore:      priorityScore,
	}
	if seedAvgResponseTimeMs > 0 {
		m.avgResponseTimeMs = seedAvgResponseTimeMs
		m.hasLatencySample = true
	}
	if seedSuccessRate > 0 {
		m.successRate = seedSuccessRate
		m.hasSuccessSample = true
	}
	return m
}

// UpdateResponseTime folds in one latency sample via an EMA with α=0.1
// (spec §4.1). The first sample initializes the average outright.
func (m *PerformanceMetrics) UpdateResponseTime(ms float64) {
	const alpha = 0.1
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasLatencySample {
		m.avgResponseTimeMs = ms
		m.hasLatencySample = true
	} else {
		m.avgResponseTimeMs = alpha*ms + (1-alpha)*m.avgResponseTimeMs
	}
	m.lastRequestTime = time.Now()
}

// UpdateSuccess folds in one outcome sample (1 on success, 0 on failure)
// via an EMA with α=0.05, and drives error_rate (spec §4.1: +0.1 additive
// per error, decayed by successes).
func (m *PerformanceMetrics) UpdateSuccess(success bool) {
	const alpha = 0.05
	sample := 0.0
	if success {
		sample = 1.0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSuccessSample {
		m.successRate = sample
		m.hasSuccessSample = true
	} else {
		m.successRate = alpha*sample + (1-alpha)*m.successRate
	}
	m.successRate = clamp01(m.successRate)

	now := time.Now()
	m.lastRequestTime = now
	if success {
		m.lastSuccessTime = now
		m.errorRate = clamp01(m.errorRate * 0.9)
	} else {
		m.lastErrorTime = now
		m.errorRate = clamp01(m.errorRate + 0.1)
	}
}

// UpdateError records an error-class outcome without touching success_rate.
// Nothing in this module calls it; failed health probes go through the
// health record's MarkFailure instead.
func (m *PerformanceMetrics) UpdateError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorRate = clamp01(m.errorRate + 0.1)
	m.lastErrorTime = time.Now()
}

// Snapshot is the point-in-time read of a PerformanceMetrics, used by
// scoring and load-balancer strategies so they never hold m's lock while
// comparing across providers.
type Snapshot struct {
	AvgResponseTimeMs  float64
	HasLatencySample   bool
	SuccessRate        float64
	ErrorRate          float64
	CostPerInputToken  float64
	CostPerOutputToken float64
	PriorityScore      float64
	CostScore          float64
	PerformanceScore   float64
	LastRequestTime    time.Time
	LastSuccessTime    time.Time
	LastErrorTime      time.Time
}

// Snapshot computes cost_score and performance_score on demand (both are
// pure functions of the other fields, per spec §4.1) and returns a
// consistent read.
func (m *PerformanceMetrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	costScore := math.Max(0, 1-(m.costPerInputToken+m.costPerOutputToken)/costCeilingPerMillionTokens)
	perfScore := 0.6*m.successRate + 0.4*math.Max(0, (5000-m.avgResponseTimeMs)/4000)

	return Snapshot{
		AvgResponseTimeMs:  m.avgResponseTimeMs,
		HasLatencySample:   m.hasLatencySample,
		SuccessRate:        m.successRate,
		ErrorRate:          m.errorRate,
		CostPerInputToken:  m.costPerInputToken,
		CostPerOutputToken: m.costPerOutputToken,
		PriorityScore:      m.priorityScore,
		CostScore:          costScore,
		PerformanceScore:   perfScore,
		LastRequestTime:    m.lastRequestTime,
		LastSuccessTime:    m.lastSuccessTime,
		LastErrorTime:      m.lastErrorTime,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
