// Package failover implements the advisory fast negative cache consulted
// before a full health-monitor lookup (spec §4.4).
package failover

import (
	"sync"
	"time"
)

const defaultCooldown = 5 * time.Minute

type entry struct {
	isFailed     bool
	failTime     time.Time
	cooldown     time.Duration
	failureCount int
	everFailed   bool
}

// Manager tracks hard-failed providers and their cooldown windows.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// MarkFailed sets is_failed=true, bumps failure_count, and records fail_time
// (spec §4.4). cooldownMinutes <= 0 uses the 5-minute default.
func (m *Manager) MarkFailed(name string, cooldownMinutes float64) {
	cooldown := defaultCooldown
	if cooldownMinutes > 0 {
		cooldown = time.Duration(cooldownMinutes * float64(time.Minute))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		e = &entry{}
		m.entries[name] = e
	}
	e.isFailed = true
	e.everFailed = true
	e.failTime = time.Now()
	e.cooldown = cooldown
	e.failureCount++
}

// MarkHealthy clears the failed flag and decrements failure_count, floored
// at 0 (spec §4.4).
func (m *Manager) MarkHealthy(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return
	}
	e.isFailed = false
	if e.failureCount > 0 {
		e.failureCount--
	}
}

// IsAvailable returns true if the provider was never marked failed, or the
// cooldown since fail_time has elapsed; a first use after cooldown clears
// is_failed (spec §3 "Failover status").
func (m *Manager) IsAvailable(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return true
	}
	if !e.isFailed {
		return true
	}
	if time.Since(e.failTime) >= e.cooldown {
		e.isFailed = false
		return true
	}
	return false
}

// GetNextProvider returns a provider from candidates other than failedName
// that is currently available, preferring never-failed providers over
// recovered ones; empty string if none qualify (spec §4.4).
func (m *Manager) GetNextProvider(failedName string, candidates []string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var recovered string
	for _, name := range candidates {
		if name == failedName {
			continue
		}
		e, ok := m.entries[name]
		if ok && e.isFailed && time.Since(e.failTime) < e.cooldown {
			continue // still in cooldown
		}
		if !ok || !e.everFailed {
			return name // never-failed, strictly preferred
		}
		if recovered == "" {
			recovered = name
		}
	}
	return recovered
}

// Reset clears all failover state (spec §4.4).
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*entry)
}

// Status reports the current FailoverStatus for a provider (zero value if
// never tracked), used for debug introspection.
func (m *Manager) Status(name string) (isFailed bool, failureCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return false, 0
	}
	return e.isFailed, e.failureCount
}
