package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/bridge"
	"github.com/tributary-ai/llm-gateway/internal/loadbalancer"
	"github.com/tributary-ai/llm-gateway/internal/types"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func basicConfig(name string, caps types.Capability, models []string) *types.ProviderConfig {
	return &types.ProviderConfig{
		Name:         name,
		BaseURL:      "synthetic://local",
		Models:       models,
		Capabilities: caps,
		Enabled:      true,
		HealthCheck: types.HealthCheckParams{
			Interval:       types.DurationSeconds(30 * time.Second),
			MaxFailures:    3,
			FailureTimeout: types.DurationSeconds(60 * time.Second),
			RequiredProbes: 2,
		},
	}
}

func simpleReq(model string) *types.Request {
	return &types.Request{
		Model: model,
		Data: map[string]interface{}{
			"messages": []interface{}{
				map[string]interface{}{"role": "user", "content": "hi"},
			},
		},
	}
}

// Scenario 1 (spec §8): vanilla route.
func TestGateway_VanillaRoute(t *testing.T) {
	m := New(testLogger())
	cfg := basicConfig("syn", 0, []string{"synthetic-gpt-4"})
	if err := m.AddProvider("syn", cfg); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	if err := m.AddProviderAdapter("syn", bridge.NewSyntheticBridge("syn")); err != nil {
		t.Fatalf("AddProviderAdapter: %v", err)
	}
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown()

	resp := m.RouteRequest(context.Background(), simpleReq("synthetic-gpt-4"))
	if !resp.Success || resp.ProviderName != "syn" || resp.StatusCode != 200 {
		t.Fatalf("expected success from 'syn', got %+v", resp)
	}
}

// Scenario 2 (spec §8): capability filter picks the vision-capable provider
// regardless of the non-vision provider's latency.
func TestGateway_CapabilityFilterOverridesLatency(t *testing.T) {
	m := New(testLogger())

	fastNoVision := basicConfig("A", 0, nil)
	fastNoVision.SeedAvgResponseTimeMs = 10
	slowVision := basicConfig("B", types.CapabilityVision, nil)
	slowVision.SeedAvgResponseTimeMs = 900

	_ = m.AddProvider("A", fastNoVision)
	_ = m.AddProvider("B", slowVision)
	_ = m.AddProviderAdapter("A", bridge.NewSyntheticBridge("A"))
	_ = m.AddProviderAdapter("B", bridge.NewSyntheticBridge("B"))
	_ = m.Initialize()
	defer m.Shutdown()

	req := &types.Request{
		Data: map[string]interface{}{
			"messages": []interface{}{
				map[string]interface{}{"role": "user", "content": []interface{}{
					map[string]interface{}{"type": "image"},
				}},
			},
		},
	}
	resp := m.RouteRequest(context.Background(), req)
	if !resp.Success || resp.ProviderName != "B" {
		t.Fatalf("expected vision-capable 'B' selected despite worse latency, got %+v", resp)
	}
}

// Scenario 3 (spec §8): circuit breaker trips after max_failures and excludes
// the provider until failure_timeout elapses.
func TestGateway_CircuitBreakerExcludesProviderUntilRecovery(t *testing.T) {
	m := New(testLogger())
	cfg := basicConfig("C", 0, nil)
	cfg.HealthCheck.MaxFailures = 3
	cfg.HealthCheck.FailureTimeout = types.DurationSeconds(60 * time.Millisecond)
	cfg.HealthCheck.RequiredProbes = 2
	_ = m.AddProvider("C", cfg)

	failing := bridge.NewSyntheticBridge("C")
	failing.FailEvery = 1 // always fails
	_ = m.AddProviderAdapter("C", failing)
	_ = m.Initialize()
	defer m.Shutdown()

	// Drive 3 consecutive bridge failures through RouteRequest against the
	// sole provider; each failed dispatch is recorded on its health record.
	req := simpleReq("")
	for i := 0; i < 3; i++ {
		resp := m.RouteRequest(context.Background(), req)
		if resp.Success {
			t.Fatalf("expected failure on attempt %d", i)
		}
	}

	// The provider should now be excluded from routing entirely.
	resp := m.RouteRequest(context.Background(), req)
	if resp.Success {
		t.Fatal("expected no eligible providers once the circuit is open")
	}
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503 (no eligible providers) with circuit open, got %d: %+v", resp.StatusCode, resp)
	}

	time.Sleep(80 * time.Millisecond)
	failing.FailEvery = 0 // let the probe succeed now
	for i := 0; i < 2; i++ {
		m.RouteRequest(context.Background(), req)
	}
	rec, ok := m.monitor.GetProviderHealth("C")
	if !ok {
		t.Fatal("expected health record to still exist")
	}
	if rec.State() != "HEALTHY" {
		t.Fatalf("expected HEALTHY after required_probes successes post-recovery, got %v", rec.State())
	}
}

// Scenario 4 (spec §8): failover to the next-best candidate on a single
// bridge failure, with a failed record for P1 and a successful one for P2.
func TestGateway_FailoverToNextBestProvider(t *testing.T) {
	m := New(testLogger())

	p1 := basicConfig("P1", 0, nil)
	p1.PriorityScore = 100 // preferred by score
	p2 := basicConfig("P2", 0, nil)
	p2.PriorityScore = 10

	_ = m.AddProvider("P1", p1)
	_ = m.AddProvider("P2", p2)

	p1Bridge := bridge.NewSyntheticBridge("P1")
	p1Bridge.FailEvery = 1 // always fails
	_ = m.AddProviderAdapter("P1", p1Bridge)
	_ = m.AddProviderAdapter("P2", bridge.NewSyntheticBridge("P2"))
	_ = m.Initialize()
	defer m.Shutdown()

	resp := m.RouteRequest(context.Background(), simpleReq(""))
	if !resp.Success || resp.ProviderName != "P2" {
		t.Fatalf("expected failover to land on P2, got %+v", resp)
	}

	metrics := m.GetRecentMetrics(10)
	var sawFailedP1, sawSuccessP2 bool
	for _, rec := range metrics {
		if rec.ProviderName == "P1" && !rec.Success {
			sawFailedP1 = true
		}
		if rec.ProviderName == "P2" && rec.Success {
			sawSuccessP2 = true
		}
	}
	if !sawFailedP1 || !sawSuccessP2 {
		t.Fatalf("expected one failed P1 record and one successful P2 record, got %+v", metrics)
	}
}

func TestGateway_EmptyProviderPoolReturns503(t *testing.T) {
	m := New(testLogger())
	_ = m.Initialize()
	defer m.Shutdown()

	resp := m.RouteRequest(context.Background(), simpleReq(""))
	if resp.Success || resp.StatusCode != 503 {
		t.Fatalf("expected 503 for an empty provider pool, got %+v", resp)
	}
}

func TestGateway_RouteRequestBeforeInitializeFails(t *testing.T) {
	m := New(testLogger())
	_ = m.AddProvider("p", basicConfig("p", 0, nil))
	_ = m.AddProviderAdapter("p", bridge.NewSyntheticBridge("p"))

	resp := m.RouteRequest(context.Background(), simpleReq(""))
	if resp.Success {
		t.Fatal("expected failure before Initialize")
	}
}

func TestGateway_AddRemoveProviderRoundTrip(t *testing.T) {
	m := New(testLogger())
	if err := m.AddProvider("p", basicConfig("p", 0, nil)); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	if !m.ProviderExists("p") {
		t.Fatal("expected provider to exist after AddProvider")
	}
	if err := m.RemoveProvider("p"); err != nil {
		t.Fatalf("RemoveProvider: %v", err)
	}
	if m.ProviderExists("p") {
		t.Fatal("expected provider gone after RemoveProvider")
	}
	// Re-adding after removal must succeed cleanly (registry returned to prior
	// externally observable state, spec §8).
	if err := m.AddProvider("p", basicConfig("p", 0, nil)); err != nil {
		t.Fatalf("expected re-add to succeed, got %v", err)
	}
}

func TestGateway_DuplicateProviderRejected(t *testing.T) {
	m := New(testLogger())
	_ = m.AddProvider("p", basicConfig("p", 0, nil))
	if err := m.AddProvider("p", basicConfig("p", 0, nil)); err == nil {
		t.Fatal("expected an error adding a duplicate provider name")
	}
}

func TestGateway_RouteRequestToProviderBypassesRouting(t *testing.T) {
	m := New(testLogger())
	_ = m.AddProvider("only", basicConfig("only", 0, nil))
	_ = m.AddProviderAdapter("only", bridge.NewSyntheticBridge("only"))
	_ = m.Initialize()
	defer m.Shutdown()

	resp := m.RouteRequestToProvider(context.Background(), simpleReq(""), "only")
	if !resp.Success || resp.ProviderName != "only" {
		t.Fatalf("expected direct routing to 'only' to succeed, got %+v", resp)
	}

	resp = m.RouteRequestToProvider(context.Background(), simpleReq(""), "missing")
	if resp.Success {
		t.Fatal("expected failure routing to an unknown provider")
	}
}

func TestGateway_ConcurrentRouteAndRemoveProviderIsSafe(t *testing.T) {
	m := New(testLogger())
	_ = m.AddProvider("p1", basicConfig("p1", 0, nil))
	_ = m.AddProviderAdapter("p1", bridge.NewSyntheticBridge("p1"))
	_ = m.AddProvider("p2", basicConfig("p2", 0, nil))
	_ = m.AddProviderAdapter("p2", bridge.NewSyntheticBridge("p2"))
	_ = m.Initialize()
	defer m.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RouteRequest(context.Background(), simpleReq(""))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.RemoveProvider("p1")
	}()
	wg.Wait() // must not panic or deadlock
}

func TestGateway_DebugRoutingDecisionPerformsNoDispatch(t *testing.T) {
	m := New(testLogger())
	b := bridge.NewSyntheticBridge("p")
	_ = m.AddProvider("p", basicConfig("p", 0, nil))
	_ = m.AddProviderAdapter("p", b)
	_ = m.Initialize()
	defer m.Shutdown()

	debug := m.DebugRoutingDecision(simpleReq(""))
	if debug.Decision.Failed() {
		t.Fatalf("expected a successful would-be decision, got %+v", debug.Decision)
	}
	if len(debug.FilteredCandidates) != 1 {
		t.Fatalf("expected one filtered candidate, got %v", debug.FilteredCandidates)
	}
}

func TestGateway_EnableLoadBalancerSwitchesStrategy(t *testing.T) {
	m := New(testLogger())
	m.EnableLoadBalancer(loadbalancer.StrategyRandom)
	if m.lb.Strategy() != loadbalancer.StrategyRandom {
		t.Fatalf("expected strategy switched to RANDOM, got %v", m.lb.Strategy())
	}
	m.DisableLoadBalancer()
	if m.lb.Strategy() != loadbalancer.StrategyRoundRobin {
		t.Fatalf("expected DisableLoadBalancer to fall back to ROUND_ROBIN, got %v", m.lb.Strategy())
	}
}

func TestGateway_MetricsCollectionToggle(t *testing.T) {
	m := New(testLogger())
	_ = m.AddProvider("p", basicConfig("p", 0, nil))
	_ = m.AddProviderAdapter("p", bridge.NewSyntheticBridge("p"))
	_ = m.Initialize()
	defer m.Shutdown()

	m.EnableMetricsCollection(false)
	m.RouteRequest(context.Background(), simpleReq(""))
	if len(m.GetRecentMetrics(10)) != 0 {
		t.Fatal("expected no metrics recorded while collection disabled")
	}

	m.EnableMetricsCollection(true)
	m.RouteRequest(context.Background(), simpleReq(""))
	if len(m.GetRecentMetrics(10)) == 0 {
		t.Fatal("expected a metric record once collection is re-enabled")
	}

	m.ClearMetrics()
	if len(m.GetRecentMetrics(10)) != 0 {
		t.Fatal("expected ClearMetrics to empty the ring")
	}
}

func TestGateway_RouteCallbackInvokedSynchronously(t *testing.T) {
	m := New(testLogger())
	_ = m.AddProvider("p", basicConfig("p", 0, nil))
	_ = m.AddProviderAdapter("p", bridge.NewSyntheticBridge("p"))
	_ = m.Initialize()
	defer m.Shutdown()

	var called bool
	m.SetRouteCallback(func(req *types.Request, resp *types.Response, decision types.RoutingDecision) {
		called = true
	})
	m.RouteRequest(context.Background(), simpleReq(""))
	if !called {
		t.Fatal("expected route callback to be invoked")
	}
}

func TestGateway_ProviderChangeCallbackPanicIsContained(t *testing.T) {
	m := New(testLogger())
	m.SetProviderChangeCallback(func(name, change string) { panic("boom") })
	if err := m.AddProvider("p", basicConfig("p", 0, nil)); err != nil {
		t.Fatalf("AddProvider must still succeed despite a panicking callback: %v", err)
	}
}
