package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/bridge"
	"github.com/tributary-ai/llm-gateway/internal/metrics"
	"github.com/tributary-ai/llm-gateway/internal/types"
)

const tickInterval = 2 * time.Second

// ChangeCallback is invoked after a state transition. Implementations must
// not block indefinitely; the monitor wraps the call in a recover boundary
// (spec §4.5 item 4, §9 "Callbacks").
type ChangeCallback func(provider string, old, new State)

// ProbeFunc runs one health probe against a provider's bridge. Returning
// nil means the probe succeeded.
type ProbeFunc func(ctx context.Context, b bridge.Bridge) error

// DefaultProbe issues IsHealthy through the bridge (spec §9 "probe is
// implementation-defined... Open Question decision: bridge-level IsHealthy
// is the default probe").
func DefaultProbe(ctx context.Context, b bridge.Bridge) error {
	if b.IsHealthy(ctx) {
		return nil
	}
	return errUnhealthy
}

var errUnhealthy = &unhealthyError{}

type unhealthyError struct{}

func (*unhealthyError) Error() string { return "bridge reported unhealthy" }

// Monitor owns the name -> health record map and runs a single cooperative
// background loop that probes providers due for a check and advances
// circuit-open timers (spec §4.5, §9 "single cooperative task").
type Monitor struct {
	mu       sync.RWMutex
	records  map[string]*Record
	bridges  map[string]bridge.Bridge

	probe    ProbeFunc
	callback ChangeCallback
	logger   *logrus.Logger

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

func NewMonitor(logger *logrus.Logger) *Monitor {
	return &Monitor{
		records: make(map[string]*Record),
		bridges: make(map[string]bridge.Bridge),
		probe:   DefaultProbe,
		logger:  logger,
	}
}

// SetProbe overrides the probe function, used by tests to inject controlled
// success/failure sequences (spec §8 scenario 3).
func (m *Monitor) SetProbe(p ProbeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probe = p
}

func (m *Monitor) SetHealthChangeCallback(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = cb
}

// AddProvider creates one health record and registers the provider's
// bridge, atomically from routing's perspective (spec §3 "Lifecycle").
func (m *Monitor) AddProvider(name string, b bridge.Bridge, capabilities types.Capability, perf *metrics.PerformanceMetrics, params types.HealthCheckParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[name] = NewRecord(name, capabilities, perf, params)
	m.bridges[name] = b
}

func (m *Monitor) RemoveProvider(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, name)
	delete(m.bridges, name)
}

func (m *Monitor) GetProviderHealth(name string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[name]
	return r, ok
}

// GetHealthyProviders returns names whose record satisfies CanAcceptRequests
// (used by candidate filtering, spec §4.3.2).
func (m *Monitor) GetHealthyProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, r := range m.records {
		if r.CanAcceptRequests() {
			out = append(out, name)
		}
	}
	return out
}

func (m *Monitor) GetUnhealthyProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, r := range m.records {
		if !r.IsHealthy() {
			out = append(out, name)
		}
	}
	return out
}

func (m *Monitor) GetProvidersWithCapability(cap types.Capability) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, r := range m.records {
		if r.Capabilities().Has(cap) {
			out = append(out, name)
		}
	}
	return out
}

// UpdateProviderMetrics folds a dispatch outcome into the provider's health
// record (spec §4.6.1 step 6d). durationMs is always recorded; the state
// transition is driven by resp.Success.
func (m *Monitor) UpdateProviderMetrics(name string, resp *types.Response, durationMs int64) {
	m.mu.RLock()
	r, ok := m.records[name]
	m.mu.RUnlock()
	if !ok {
		return
	}

	r.Metrics().UpdateResponseTime(float64(durationMs))

	var old, new State
	if resp.Success {
		old, new = r.MarkSuccess()
	} else {
		old, new = r.MarkFailure()
	}
	if old != new {
		m.emitChange(name, old, new)
	}
}

// ManuallyMarkHealthy / ManuallyMarkUnhealthy are the ops-override entry
// points (spec §4.6 "manually_mark_provider_{healthy,unhealthy}").
func (m *Monitor) ManuallyMarkHealthy(name string) {
	m.mu.RLock()
	r, ok := m.records[name]
	m.mu.RUnlock()
	if !ok {
		return
	}
	old, new := r.MarkSuccess()
	if old != new {
		m.emitChange(name, old, new)
	}
}

func (m *Monitor) ManuallyMarkUnhealthy(name string) {
	m.mu.RLock()
	r, ok := m.records[name]
	m.mu.RUnlock()
	if !ok {
		return
	}
	old, new := r.MarkFailure()
	if old != new {
		m.emitChange(name, old, new)
	}
}

func (m *Monitor) emitChange(name string, old, new State) {
	m.mu.RLock()
	cb := m.callback
	m.mu.RUnlock()
	if cb == nil {
		return
	}
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				m.logger.WithField("provider", name).WithField("panic", rec).
					Error("health change callback panicked")
			}
		}()
		cb(name, old, new)
	}()
}

// StartMonitoring launches the background probe loop (spec §4.5, §9).
func (m *Monitor) StartMonitoring(ctx context.Context) {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return // already running
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
}

// StopMonitoring signals the loop to exit and joins it within deadline
// (spec §4.5 "Stopping the monitor joins the background task within a
// bounded deadline").
func (m *Monitor) StopMonitoring(deadline time.Duration) {
	m.mu.Lock()
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.stopCh = nil
	m.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(deadline):
		m.logger.Warn("health monitor did not stop within deadline")
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	m.mu.RLock()
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.RUnlock()
	defer close(doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	now := time.Now()

	m.mu.RLock()
	due := make([]string, 0, len(m.records))
	openCircuits := make([]string, 0)
	for name, r := range m.records {
		if r.DueForCheck(now) {
			due = append(due, name)
		}
		if r.State() == StateCircuitOpen {
			openCircuits = append(openCircuits, name)
		}
	}
	probe := m.probe
	m.mu.RUnlock()

	for _, name := range due {
		m.mu.RLock()
		r := m.records[name]
		b := m.bridges[name]
		m.mu.RUnlock()
		if r == nil || b == nil {
			continue
		}
		if !r.BeginHealthCheck() {
			continue
		}
		func() {
			defer r.EndHealthCheck()
			old := r.State()
			err := probe(ctx, b)
			var new State
			if err == nil {
				_, new = r.MarkSuccess()
			} else {
				_, new = r.MarkFailure()
			}
			if old != new {
				m.emitChange(name, old, new)
			}
		}()
	}

	for _, name := range openCircuits {
		m.mu.RLock()
		r := m.records[name]
		m.mu.RUnlock()
		if r == nil {
			continue
		}
		if time.Since(r.CircuitOpenTime()) >= r.failureTimeout {
			r.AttemptRecovery()
		}
	}
}
