package failover

import (
	"testing"
	"time"
)

func TestManager_NeverFailedIsAlwaysAvailable(t *testing.T) {
	m := NewManager()
	if !m.IsAvailable("ghost") {
		t.Fatal("a provider never marked failed must be available")
	}
}

func TestManager_MarkFailedThenAvailableAfterCooldown(t *testing.T) {
	m := NewManager()
	m.MarkFailed("p1", 0.0005) // ~30ms cooldown
	if m.IsAvailable("p1") {
		t.Fatal("provider must be unavailable immediately after MarkFailed")
	}
	time.Sleep(50 * time.Millisecond)
	if !m.IsAvailable("p1") {
		t.Fatal("provider must become available once cooldown elapses")
	}
}

func TestManager_MarkHealthyClearsFailureAndDecrements(t *testing.T) {
	m := NewManager()
	m.MarkFailed("p1", 5)
	m.MarkFailed("p1", 5)
	if isFailed, count := m.Status("p1"); !isFailed || count != 2 {
		t.Fatalf("expected isFailed=true count=2, got %v/%d", isFailed, count)
	}

	m.MarkHealthy("p1")
	isFailed, count := m.Status("p1")
	if isFailed {
		t.Fatal("expected is_failed cleared after MarkHealthy")
	}
	if count != 1 {
		t.Fatalf("expected failure_count decremented to 1, got %d", count)
	}

	m.MarkHealthy("p1")
	m.MarkHealthy("p1") // must floor at 0, not go negative
	_, count = m.Status("p1")
	if count != 0 {
		t.Fatalf("expected failure_count floored at 0, got %d", count)
	}
}

func TestManager_GetNextProviderPrefersNeverFailedOverRecovered(t *testing.T) {
	m := NewManager()
	m.MarkFailed("recovered", 0.0005)
	time.Sleep(50 * time.Millisecond)
	m.IsAvailable("recovered") // triggers the cooldown-elapsed clear

	candidates := []string{"failed", "recovered", "fresh"}
	m.MarkFailed("failed", 999) // long cooldown, still unavailable

	next := m.GetNextProvider("failed", candidates)
	if next != "fresh" {
		t.Fatalf("expected never-failed 'fresh' to be preferred, got %q", next)
	}
}

func TestManager_GetNextProviderReturnsEmptyWhenNoneAvailable(t *testing.T) {
	m := NewManager()
	m.MarkFailed("only", 999)
	next := m.GetNextProvider("only", []string{"only"})
	if next != "" {
		t.Fatalf("expected empty string when no candidate qualifies, got %q", next)
	}
}

func TestManager_GetNextProviderExcludesTheFailedName(t *testing.T) {
	m := NewManager()
	next := m.GetNextProvider("p1", []string{"p1"})
	if next != "" {
		t.Fatalf("expected empty when failedName is the only candidate, got %q", next)
	}
}

func TestManager_Reset(t *testing.T) {
	m := NewManager()
	m.MarkFailed("p1", 999)
	m.Reset()
	if !m.IsAvailable("p1") {
		t.Fatal("expected Reset to clear all failover state")
	}
}

func TestManager_DefaultCooldownIsFiveMinutes(t *testing.T) {
	m := NewManager()
	m.MarkFailed("p1", 0) // <=0 uses the 5-minute default
	if m.IsAvailable("p1") {
		t.Fatal("expected provider unavailable well within the default 5-minute cooldown")
	}
}
