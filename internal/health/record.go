// Package health owns per-provider health records and the background
// monitoring loop that probes them (spec §4.2, §4.5).
package health

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tributary-ai/llm-gateway/internal/metrics"
	"github.com/tributary-ai/llm-gateway/internal/types"
)

// State is one of the four health-record states (spec §4.2.1).
type State string

const (
	StateHealthy     State = "HEALTHY"
	StateDegraded    State = "DEGRADED"
	StateUnhealthy   State = "UNHEALTHY"
	StateCircuitOpen State = "CIRCUIT_OPEN"
)

// Record is one provider's state machine plus metrics plus circuit-breaker
// timers (spec §3 "Provider health record"). All mutation goes through its
// methods; composite updates are serialized under mu (spec §4.2.2).
type Record struct {
	mu sync.Mutex

	providerName string
	capabilities types.Capability
	metrics      *metrics.PerformanceMetrics

	state                   State
	consecutiveFailures     int
	maxConsecutiveFailures  int
	circuitOpenTime         time.Time
	healthCheckInProgress   bool
	lastHealthCheck         time.Time
	healthCheckInterval     time.Duration
	failureTimeout          time.Duration
	successfulProbes        int
	requiredProbes          int
	lastErrorTime           time.Time
	lastSuccessTime         time.Time

	// probeGroup admits at most one in-flight probe per record at a time
	// (spec §9 "Probe admission in CIRCUIT_OPEN is single-flight").
	probeGroup singleflight.Group
}

// NewRecord creates a health record in the initial HEALTHY state.
func NewRecord(providerName string, capabilities types.Capability, perf *metrics.PerformanceMetrics, params types.HealthCheckParams) *Record {
	requiredProbes := params.RequiredProbes
	if requiredProbes <= 0 {
		requiredProbes = 2
	}
	maxFailures := params.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	interval := params.Interval.Duration()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := params.FailureTimeout.Duration()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Record{
		providerName:           providerName,
		capabilities:           capabilities,
		metrics:                perf,
		state:                  StateHealthy,
		maxConsecutiveFailures: maxFailures,
		healthCheckInterval:    interval,
		failureTimeout:         timeout,
		requiredProbes:         requiredProbes,
	}
}

func (r *Record) ProviderName() string           { return r.providerName }
func (r *Record) Capabilities() types.Capability { return r.capabilities }
func (r *Record) Metrics() *metrics.PerformanceMetrics { return r.metrics }

// State returns the current state under lock.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsHealthy ≡ state ∈ {HEALTHY, DEGRADED} (spec §4.2.1).
func (r *Record) IsHealthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateHealthy || r.state == StateDegraded
}

// CanAcceptRequests ≡ state ≠ CIRCUIT_OPEN OR failure_timeout has elapsed
// since circuit_open_time (spec §4.2.1).
func (r *Record) CanAcceptRequests() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCircuitOpen {
		return true
	}
	return time.Since(r.circuitOpenTime) >= r.failureTimeout
}

// ConsecutiveFailures reports the current streak, used by RELIABILITY
// scoring tie-breaks (spec §4.3.3).
func (r *Record) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveFailures
}

func (r *Record) CircuitOpenTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.circuitOpenTime
}

// Snapshot reports a consistent (state, last_error_time, consecutive_failures)
// tuple, satisfying spec §4.2.2's reader contract.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	LastErrorTime       time.Time
	LastSuccessTime     time.Time
	CircuitOpenTime     time.Time
}

func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		State:               r.state,
		ConsecutiveFailures: r.consecutiveFailures,
		LastErrorTime:       r.lastErrorTime,
		LastSuccessTime:     r.lastSuccessTime,
		CircuitOpenTime:     r.circuitOpenTime,
	}
}

func (r *Record) ToHealthStatus() types.HealthStatus {
	s := r.Snapshot()
	return types.HealthStatus{
		Provider:            r.providerName,
		State:               string(s.State),
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastErrorTime:       s.LastErrorTime.Unix(),
		LastSuccessTime:     s.LastSuccessTime.Unix(),
		CircuitOpenTime:     s.CircuitOpenTime.Unix(),
	}
}

// MarkSuccess applies the mark_success transition table (spec §4.2.1) and
// folds the sample into the provider's performance metrics. Returns the
// (old, new) state for callback emission; equal if no transition occurred.
func (r *Record) MarkSuccess() (old, new State) {
	r.mu.Lock()
	old = r.state
	r.lastSuccessTime = time.Now()

	switch r.state {
	case StateCircuitOpen:
		r.successfulProbes++
		if r.successfulProbes >= r.requiredProbes {
			r.state = StateHealthy
			r.consecutiveFailures = 0
			r.successfulProbes = 0
		}
	case StateUnhealthy:
		r.state = StateHealthy
		r.consecutiveFailures = 0
	default:
		r.consecutiveFailures = 0
		r.state = StateHealthy
	}
	new = r.state
	r.mu.Unlock()

	r.metrics.UpdateSuccess(true)
	return old, new
}

// MarkFailure applies the mark_failure transition table (spec §4.2.1).
func (r *Record) MarkFailure() (old, new State) {
	r.mu.Lock()
	old = r.state
	r.lastErrorTime = time.Now()
	r.consecutiveFailures++

	if r.consecutiveFailures >= r.maxConsecutiveFailures {
		r.state = StateCircuitOpen
		r.circuitOpenTime = time.Now()
		r.successfulProbes = 0
	} else if r.state != StateCircuitOpen {
		if r.consecutiveFailures >= 2 {
			r.state = StateUnhealthy
		}
	}
	new = r.state
	r.mu.Unlock()

	r.metrics.UpdateSuccess(false)
	return old, new
}

// AttemptRecovery is the timer-driven input that allows CanAcceptRequests
// to start returning true once failure_timeout has elapsed; it performs no
// state transition itself — the next mark_success/mark_failure from a real
// probe request does that (spec §4.2.1 row 6, §9 "next real request acts as
// a probe").
func (r *Record) AttemptRecovery() {
	// No-op by design: CanAcceptRequests already computes this from
	// circuit_open_time, so there is no separate state to advance here.
}

// BeginHealthCheck admits at most one concurrent probe for this record,
// returning false if one is already in flight. Always pair with
// EndHealthCheck via defer.
func (r *Record) BeginHealthCheck() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.healthCheckInProgress {
		return false
	}
	r.healthCheckInProgress = true
	return true
}

func (r *Record) EndHealthCheck() {
	r.mu.Lock()
	r.healthCheckInProgress = false
	r.lastHealthCheck = time.Now()
	r.mu.Unlock()
}

func (r *Record) DueForCheck(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.healthCheckInProgress {
		return false
	}
	return now.Sub(r.lastHealthCheck) >= r.healthCheckInterval
}

// Probe runs fn at most once concurrently per record (singleflight),
// folding the result into the state machine (spec §9).
func (r *Record) Probe(fn func() error) {
	_, _, _ = r.probeGroup.Do(r.providerName, func() (interface{}, error) {
		if err := fn(); err != nil {
			r.MarkFailure()
		} else {
			r.MarkSuccess()
		}
		return nil, nil
	})
}
