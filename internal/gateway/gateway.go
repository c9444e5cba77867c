// Package gateway implements GatewayManager, the façade the HTTP layer
// calls into: provider registry, routing, health, failover and metrics all
// meet here (spec §4.6).
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tributary-ai/llm-gateway/internal/bridge"
	"github.com/tributary-ai/llm-gateway/internal/failover"
	"github.com/tributary-ai/llm-gateway/internal/health"
	"github.com/tributary-ai/llm-gateway/internal/loadbalancer"
	"github.com/tributary-ai/llm-gateway/internal/metrics"
	"github.com/tributary-ai/llm-gateway/internal/routing"
	"github.com/tributary-ai/llm-gateway/internal/types"
)

// tracer instruments RouteRequest. With no TracerProvider registered by the
// host process it is a documented no-op (otel.Tracer's default), so this
// carries no cost for callers who never set one up.
var tracer = otel.Tracer("github.com/tributary-ai/llm-gateway/internal/gateway")

const (
	maxFailoverAttempts   = 3
	defaultRequestTimeout = 300 * time.Second
	monitorStopDeadline   = 5 * time.Second
)

// RouteCallback is invoked synchronously after a route_request completes
// (spec §9 "Callbacks").
type RouteCallback func(req *types.Request, resp *types.Response, decision types.RoutingDecision)

// ProviderChangeCallback fires after add/remove/update_provider.
type ProviderChangeCallback func(name string, change string)

type providerEntry struct {
	config *types.ProviderConfig
	bridge bridge.Bridge
}

// Manager is GatewayManager (spec §4.6).
type Manager struct {
	mu       sync.RWMutex
	initialized bool

	providers map[string]*providerEntry

	monitor  *health.Monitor
	failover *failover.Manager
	lb       *loadbalancer.LoadBalancer
	logic    *routing.Logic
	classifier *routing.Classifier
	ring     *metrics.Ring

	routingPriority types.RoutingPriority
	customSelector  types.CustomSelector

	defaultProvider  string
	thinkingProvider string
	visionProvider   string
	toolsProvider    string

	requestTimeout time.Duration

	routeCallback    RouteCallback
	providerCallback ProviderChangeCallback

	logger *logrus.Logger

	monitorCtx    context.Context
	monitorCancel context.CancelFunc
}

// New constructs an uninitialized Manager. Call Initialize before routing.
func New(logger *logrus.Logger) *Manager {
	lb := loadbalancer.New(loadbalancer.StrategyRoundRobin)
	monitor := health.NewMonitor(logger)

	m := &Manager{
		providers:       make(map[string]*providerEntry),
		monitor:         monitor,
		failover:        failover.NewManager(),
		lb:              lb,
		logic:           routing.NewLogic(lb),
		classifier:      routing.NewClassifier(routing.DefaultClassifierConfig()),
		ring:            metrics.NewRing(),
		routingPriority: types.PriorityBalanced,
		requestTimeout:  defaultRequestTimeout,
		logger:          logger,
	}
	monitor.SetHealthChangeCallback(m.onHealthChange)
	return m
}

// Initialize starts the background health monitoring loop. Idempotent
// (spec §4.6).
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	m.monitorCtx, m.monitorCancel = context.WithCancel(context.Background())
	m.monitor.StartMonitoring(m.monitorCtx)
	m.initialized = true
	return nil
}

// Shutdown stops the health monitor within a bounded deadline. Idempotent.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = false
	cancel := m.monitorCancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.monitor.StopMonitoring(monitorStopDeadline)
	return nil
}

// AddProvider registers a provider config. A real bridge must follow via
// AddProviderAdapter before the provider can be dispatched to; until then
// allCandidates skips it (it has no bridge or health record yet, so it is
// simply invisible to routing), or it is served by an ErrorBridge if one is
// attached explicitly.
func (m *Manager) AddProvider(name string, cfg *types.ProviderConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid provider config for %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.providers[name]; exists {
		return fmt.Errorf("provider %q already exists", name)
	}
	m.providers[name] = &providerEntry{config: cfg}
	m.lb.AddProvider(name)
	m.notifyProviderChange(name, "added")
	return nil
}

// AddProviderAdapter wires the actual dispatch capability for a previously
// added provider config, creating its health record (spec §4.6
// "add_provider_adapter").
func (m *Manager) AddProviderAdapter(name string, b bridge.Bridge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.providers[name]
	if !ok {
		return fmt.Errorf("provider %q not configured", name)
	}
	entry.bridge = b

	perf := metrics.NewPerformanceMetrics(
		entry.config.SeedAvgResponseTimeMs,
		entry.config.SeedSuccessRate,
		entry.config.CostPerInputToken,
		entry.config.CostPerOutputToken,
		entry.config.PriorityScore,
	)
	m.monitor.AddProvider(name, b, entry.config.Capabilities, perf, entry.config.HealthCheck)
	return nil
}

func (m *Manager) RemoveProviderAdapter(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.providers[name]; ok {
		entry.bridge = nil
	}
	m.monitor.RemoveProvider(name)
}

// RemoveProvider tears down a provider's config, bridge, health record and
// load-balancer entry atomically from routing's perspective (spec §3
// "Lifecycle").
func (m *Manager) RemoveProvider(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[name]; !ok {
		return fmt.Errorf("provider %q not found", name)
	}
	delete(m.providers, name)
	m.monitor.RemoveProvider(name)
	m.lb.RemoveProvider(name)
	m.notifyProviderChange(name, "removed")
	return nil
}

func (m *Manager) UpdateProviderConfig(name string, cfg *types.ProviderConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid provider config for %q: %w", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.providers[name]
	if !ok {
		return fmt.Errorf("provider %q not found", name)
	}
	entry.config = cfg
	m.notifyProviderChange(name, "updated")
	return nil
}

func (m *Manager) ProviderExists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.providers[name]
	return ok
}

func (m *Manager) SetDefaultProvider(name string)  { m.mu.Lock(); m.defaultProvider = name; m.mu.Unlock() }
func (m *Manager) SetThinkingProvider(name string) { m.mu.Lock(); m.thinkingProvider = name; m.mu.Unlock() }
func (m *Manager) SetVisionProvider(name string)   { m.mu.Lock(); m.visionProvider = name; m.mu.Unlock() }
func (m *Manager) SetToolsProvider(name string)    { m.mu.Lock(); m.toolsProvider = name; m.mu.Unlock() }

func (m *Manager) SetRoutingPriority(p types.RoutingPriority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routingPriority = p
}

func (m *Manager) SetCustomSelector(fn types.CustomSelector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customSelector = fn
}

func (m *Manager) EnableLoadBalancer(strategy loadbalancer.Strategy) {
	m.lb.SetStrategy(strategy)
}

func (m *Manager) DisableLoadBalancer() {
	m.lb.SetStrategy(loadbalancer.StrategyRoundRobin)
}

func (m *Manager) SetRouteCallback(cb RouteCallback)               { m.mu.Lock(); m.routeCallback = cb; m.mu.Unlock() }
func (m *Manager) SetProviderChangeCallback(cb ProviderChangeCallback) {
	m.mu.Lock()
	m.providerCallback = cb
	m.mu.Unlock()
}

func (m *Manager) EnableMetricsCollection(enabled bool) { m.ring.SetEnabled(enabled) }
func (m *Manager) GetMetrics() types.MetricsSnapshot     { return m.ring.Snapshot() }
func (m *Manager) GetRecentMetrics(n int) []types.RequestMetricRecord {
	return m.ring.GetRecentMetrics(n)
}
func (m *Manager) ClearMetrics() { m.ring.Clear() }

// AnalyzeRequest is the pure classification half of routing (spec §4.6
// "analyze_request").
func (m *Manager) AnalyzeRequest(req *types.Request) types.RequestAnalysis {
	return m.classifier.Analyze(req)
}

func (m *Manager) notifyProviderChange(name, change string) {
	cb := m.providerCallback
	if cb == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.WithField("provider", name).WithField("panic", r).Error("provider change callback panicked")
			}
		}()
		cb(name, change)
	}()
}

func (m *Manager) onHealthChange(provider string, old, new health.State) {
	m.logger.WithFields(logrus.Fields{
		"provider": provider,
		"from":     old,
		"to":       new,
	}).Info("provider health transition")
}

// allCandidates snapshots the provider registry into routing.Candidate
// values. Providers without an attached bridge/health record (config added
// but no adapter yet) are skipped.
func (m *Manager) allCandidates() []routing.Candidate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]routing.Candidate, 0, len(m.providers))
	for name, entry := range m.providers {
		if entry.bridge == nil {
			continue
		}
		rec, ok := m.monitor.GetProviderHealth(name)
		if !ok {
			continue
		}
		out = append(out, routing.Candidate{Config: entry.config, Health: rec, Bridge: entry.bridge})
	}
	return out
}

func (m *Manager) healthSnapshot() map[string]types.HealthStatus {
	out := make(map[string]types.HealthStatus)
	for _, c := range m.allCandidates() {
		out[c.Config.Name] = c.Health.ToHealthStatus()
	}
	return out
}

// GetHealthSnapshot is the admin-facing equivalent of healthSnapshot, used
// by the HTTP layer's health endpoints (spec §4.5 "get_provider_health").
func (m *Manager) GetHealthSnapshot() map[string]types.HealthStatus {
	return m.healthSnapshot()
}

// ListProviders returns the configured provider names in no particular
// order, regardless of whether a bridge/health record is attached yet.
func (m *Manager) ListProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.providers))
	for name := range m.providers {
		out = append(out, name)
	}
	return out
}

// GetProviderCapabilities returns the capability bitset for each configured
// provider, as reported by its config (spec §4.6 admin introspection).
func (m *Manager) GetProviderCapabilities() map[string]types.Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.Capability, len(m.providers))
	for name, entry := range m.providers {
		out[name] = entry.config.Capabilities
	}
	return out
}

// RouteRequest is the primary entry point (spec §4.6.1).
func (m *Manager) RouteRequest(ctx context.Context, req *types.Request) *types.Response {
	ctx, span := tracer.Start(ctx, "GatewayManager.RouteRequest")
	defer span.End()

	m.mu.RLock()
	initialized := m.initialized
	providerCount := len(m.providers)
	timeout := m.requestTimeout
	priority := m.routingPriority
	if req.RoutingPriority != "" {
		priority = req.RoutingPriority
	}
	custom := m.customSelector
	m.mu.RUnlock()

	if !initialized || providerCount == 0 {
		span.SetAttributes(attribute.Bool("gateway.success", false))
		return m.errorResponse("", 503, "gateway not initialized or no providers configured", nil, types.RequestStandard, "")
	}

	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("gateway.correlation_id", req.CorrelationID))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	analysis := m.AnalyzeRequest(req)
	span.SetAttributes(attribute.String("gateway.request_type", string(analysis.Type)))

	candidates := routing.Filter(m.allCandidates(), analysis.RequiredCapabilities, req.Model)
	if len(candidates) == 0 {
		span.SetAttributes(attribute.Bool("gateway.success", false))
		return m.errorResponse("", 503, "no eligible providers", &analysis, analysis.Type, "")
	}

	candidates = m.preSeedSpecializedProvider(candidates, analysis, req)

	decision := m.logic.Route(candidates, priority, analysis, custom, m.healthSnapshot())
	if decision.Failed() {
		span.SetAttributes(attribute.Bool("gateway.success", false))
		return m.errorResponse("", 503, decision.Reasoning, &analysis, analysis.Type, decision.Reasoning)
	}

	resp, attempts := m.dispatchWithFailover(ctx, req, decision, candidates, analysis)
	span.SetAttributes(
		attribute.String("gateway.selected_provider", decision.SelectedProvider),
		attribute.Int("gateway.attempts", attempts),
		attribute.Bool("gateway.success", resp.Success),
	)

	m.mu.RLock()
	cb := m.routeCallback
	m.mu.RUnlock()
	if cb != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.WithField("panic", r).Error("route callback panicked")
				}
			}()
			cb(req, resp, decision)
		}()
	}
	return resp
}

// RouteRequestToProvider bypasses routing logic entirely, honoring only
// enablement and circuit-breaker state (spec §4.6
// "route_request_to_provider").
func (m *Manager) RouteRequestToProvider(ctx context.Context, req *types.Request, name string) *types.Response {
	m.mu.RLock()
	entry, ok := m.providers[name]
	timeout := m.requestTimeout
	m.mu.RUnlock()

	if !ok || entry.bridge == nil {
		return m.errorResponse(name, 503, fmt.Sprintf("provider %q not available", name), nil, types.RequestStandard, "")
	}
	if !entry.config.Enabled {
		return m.errorResponse(name, 503, fmt.Sprintf("provider %q disabled", name), nil, types.RequestStandard, "")
	}
	rec, ok := m.monitor.GetProviderHealth(name)
	if ok && !rec.CanAcceptRequests() {
		return m.errorResponse(name, 503, fmt.Sprintf("provider %q circuit open", name), nil, types.RequestStandard, "")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	analysis := m.AnalyzeRequest(req)
	resp := m.attempt(ctx, req, name, entry.bridge, analysis)
	return resp
}

// preSeedSpecializedProvider pre-seeds the configured specialized provider
// (thinking/vision/tools) as the first candidate when req.Model is blank
// and it is present and healthy among the filtered candidates (spec
// §4.6.1 step 3).
func (m *Manager) preSeedSpecializedProvider(candidates []routing.Candidate, analysis types.RequestAnalysis, req *types.Request) []routing.Candidate {
	if req.Model != "" {
		return candidates
	}

	m.mu.RLock()
	var specialized string
	switch analysis.Type {
	case types.RequestThinking:
		specialized = m.thinkingProvider
	case types.RequestVision, types.RequestMultimodal:
		specialized = m.visionProvider
	case types.RequestTools:
		specialized = m.toolsProvider
	}
	m.mu.RUnlock()
	if specialized == "" {
		return candidates
	}

	for i, c := range candidates {
		if c.Config.Name == specialized {
			reordered := make([]routing.Candidate, 0, len(candidates))
			reordered = append(reordered, c)
			reordered = append(reordered, candidates[:i]...)
			reordered = append(reordered, candidates[i+1:]...)
			return reordered
		}
	}
	return candidates
}

// dispatchWithFailover implements step 6 of §4.6.1: attempt dispatch,
// fail over to the next-best candidate up to maxFailoverAttempts.
func (m *Manager) dispatchWithFailover(ctx context.Context, req *types.Request, decision types.RoutingDecision, candidates []routing.Candidate, analysis types.RequestAnalysis) (*types.Response, int) {
	order := append([]string{decision.SelectedProvider}, decision.AlternativeProviders...)

	var lastResp *types.Response
	var priorErrors []string

	for attempt := 0; attempt < maxFailoverAttempts && attempt < len(order); attempt++ {
		name := order[attempt]
		entry := m.providerEntry(name)
		if entry == nil || entry.bridge == nil {
			continue
		}

		resp := m.attempt(ctx, req, name, entry.bridge, analysis)
		lastResp = resp

		if resp.Success {
			m.failover.MarkHealthy(name)
			return resp, attempt + 1
		}

		priorErrors = append(priorErrors, fmt.Sprintf("%s: %s", name, resp.ErrorMessage))
		m.failover.MarkFailed(name, 0)
		m.ring.RecordFailoverAttempt()

		if ctx.Err() != nil {
			break
		}
	}

	if lastResp != nil && len(priorErrors) > 1 {
		lastResp.ErrorMessage = fmt.Sprintf("all attempts failed: %s", joinErrors(priorErrors))
	}
	if lastResp == nil {
		lastResp = m.errorResponse("", 503, "no eligible providers", &analysis, analysis.Type, "")
	}
	return lastResp, len(priorErrors)
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}

func (m *Manager) providerEntry(name string) *providerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[name]
}

// attempt performs one bridge dispatch and its bookkeeping (spec §4.6.1
// step 6a-6d, §4.6.2 error mapping).
func (m *Manager) attempt(ctx context.Context, req *types.Request, name string, b bridge.Bridge, analysis types.RequestAnalysis) *types.Response {
	start := time.Now()
	resp, err := b.SendRequest(ctx, req)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		resp = &types.Response{
			Success:      false,
			ProviderName: name,
			StatusCode:   502,
			ErrorMessage: err.Error(),
		}
	}
	if resp.ProviderName == "" {
		resp.ProviderName = name
	}
	if resp.ResponseTimeMs == 0 {
		resp.ResponseTimeMs = durationMs
	}

	if ctx.Err() != nil {
		resp.Success = false
		resp.ErrorMessage = "cancelled"
		resp.StatusCode = 499
	}

	m.monitor.UpdateProviderMetrics(name, resp, durationMs)
	m.lb.UpdateResponseTime(name, float64(durationMs))
	m.lb.UpdateConnections(name, b.CurrentConcurrency())

	m.recordMetric(req, resp, start, durationMs, analysis, name)
	return resp
}

func (m *Manager) recordMetric(req *types.Request, resp *types.Response, start time.Time, durationMs int64, analysis types.RequestAnalysis, providerName string) {
	end := start.Add(time.Duration(durationMs) * time.Millisecond)
	rec := types.RequestMetricRecord{
		ID:             req.CorrelationID,
		ProviderName:   providerName,
		StartTime:      start,
		EndTime:        end,
		DurationMs:     durationMs,
		Success:        resp.Success,
		HTTPStatusCode: resp.StatusCode,
		ErrorMessage:   resp.ErrorMessage,
		RequestTokens:  analysis.EstimatedTokens,
		RequestType:    analysis.Type,
	}
	if entry := m.providerEntry(providerName); entry != nil {
		rec.CostUSD = estimateCost(entry.config, analysis.EstimatedTokens)
	}
	m.ring.Append(rec)
}

func estimateCost(cfg *types.ProviderConfig, tokens int) float64 {
	if cfg == nil {
		return 0
	}
	return float64(tokens) * cfg.CostPerInputToken / 1_000_000
}

func (m *Manager) errorResponse(provider string, statusCode int, message string, analysis *types.RequestAnalysis, reqType types.RequestType, reasoning string) *types.Response {
	return &types.Response{
		Success:      false,
		ProviderName: provider,
		StatusCode:   statusCode,
		ErrorMessage: message,
	}
}

// DebugRoutingDecision returns the analysis, filtering outcome and would-be
// selection without dispatching (spec §4.6.3).
type DebugInfo struct {
	Analysis          types.RequestAnalysis
	AllProviders       []string
	FilteredCandidates []string
	Decision          types.RoutingDecision
}

func (m *Manager) DebugRoutingDecision(req *types.Request) DebugInfo {
	analysis := m.AnalyzeRequest(req)
	all := m.allCandidates()

	allNames := make([]string, len(all))
	for i, c := range all {
		allNames[i] = c.Config.Name
	}

	filtered := routing.Filter(all, analysis.RequiredCapabilities, req.Model)
	filteredNames := make([]string, len(filtered))
	for i, c := range filtered {
		filteredNames[i] = c.Config.Name
	}

	m.mu.RLock()
	priority := m.routingPriority
	custom := m.customSelector
	m.mu.RUnlock()

	decision := m.logic.Route(filtered, priority, analysis, custom, m.healthSnapshot())

	return DebugInfo{
		Analysis:           analysis,
		AllProviders:       allNames,
		FilteredCandidates: filteredNames,
		Decision:           decision,
	}
}

// ManuallyMarkProviderHealthy / Unhealthy are the ops-override entry points
// (spec §4.6).
func (m *Manager) ManuallyMarkProviderHealthy(name string)   { m.monitor.ManuallyMarkHealthy(name) }
func (m *Manager) ManuallyMarkProviderUnhealthy(name string) { m.monitor.ManuallyMarkUnhealthy(name) }

// GetConfiguration / LoadConfiguration round out spec §4.6's reload hooks;
// the concrete document shape lives in internal/config, which calls back
// into AddProvider per entry transactionally.
func (m *Manager) GetConfiguration() map[string]*types.ProviderConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*types.ProviderConfig, len(m.providers))
	for name, entry := range m.providers {
		out[name] = entry.config
	}
	return out
}
