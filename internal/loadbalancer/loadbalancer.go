// Package loadbalancer implements the pluggable strategy family that breaks
// ties among equally-scored candidates (spec §4.3.4).
package loadbalancer

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/tributary-ai/llm-gateway/internal/types"
)

// Strategy identifies one of the six required load-balancer behaviors.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "ROUND_ROBIN"
	StrategyWeighted         Strategy = "WEIGHTED"
	StrategyLeastConnections Strategy = "LEAST_CONNECTIONS"
	StrategyFastestResponse  Strategy = "FASTEST_RESPONSE"
	StrategyAdaptive         Strategy = "ADAPTIVE"
	StrategyRandom           Strategy = "RANDOM"
)

// providerStats is the load balancer's own view of each candidate, distinct
// from (but fed by) health-record performance metrics — it additionally
// tracks live connection counts and total requests, which belong to the
// load-balancer's bookkeeping per spec §5 ("Load balancer internal state").
type providerStats struct {
	avgResponseTimeMs float64
	hasLatencySample  bool
	currentConns      int
	totalRequests     int64
}

// LoadBalancer holds the active strategy and the metrics map it needs
// (round_robin_index atomic, metrics map behind a single mutex, per spec
// §5).
type LoadBalancer struct {
	strategy Strategy

	roundRobinIndex uint64 // atomic

	mu    sync.Mutex
	stats map[string]*providerStats

	rng *rand.Rand
}

func New(strategy Strategy) *LoadBalancer {
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	return &LoadBalancer{
		strategy: strategy,
		stats:    make(map[string]*providerStats),
		rng:      rand.New(rand.NewSource(1)),
	}
}

func (lb *LoadBalancer) SetStrategy(s Strategy) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.strategy = s
}

func (lb *LoadBalancer) Strategy() Strategy {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.strategy
}

// AddProvider / RemoveProvider keep the stats map in sync with the provider
// registry lifecycle (spec §3 "Lifecycle": one load-balancer metrics entry
// per provider mutation).
func (lb *LoadBalancer) AddProvider(name string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if _, ok := lb.stats[name]; !ok {
		lb.stats[name] = &providerStats{}
	}
}

func (lb *LoadBalancer) RemoveProvider(name string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	delete(lb.stats, name)
}

// UpdateResponseTime folds a dispatch latency sample into the balancer's own
// tracking (spec §4.6.1 step 6d).
func (lb *LoadBalancer) UpdateResponseTime(name string, ms float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	s := lb.statsFor(name)
	if !s.hasLatencySample {
		s.avgResponseTimeMs = ms
		s.hasLatencySample = true
	} else {
		s.avgResponseTimeMs = 0.2*ms + 0.8*s.avgResponseTimeMs
	}
	s.totalRequests++
}

// UpdateConnections sets the live in-flight count for a provider (spec
// §4.6.1 step 6d).
func (lb *LoadBalancer) UpdateConnections(name string, inFlight int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.statsFor(name).currentConns = inFlight
}

func (lb *LoadBalancer) statsFor(name string) *providerStats {
	s, ok := lb.stats[name]
	if !ok {
		s = &providerStats{}
		lb.stats[name] = s
	}
	return s
}

// Select applies the active strategy to candidates and returns one name,
// or "" when candidates is empty. reqType is consulted by strategies that
// special-case request shape (none currently do, but the parameter is part
// of the contract in spec §4.3.4).
func (lb *LoadBalancer) Select(candidates []string, reqType types.RequestType) string {
	if len(candidates) == 0 {
		return ""
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	switch lb.Strategy() {
	case StrategyWeighted:
		return lb.selectWeighted(candidates)
	case StrategyLeastConnections:
		return lb.selectLeastConnections(candidates)
	case StrategyFastestResponse:
		return lb.selectFastestResponse(candidates)
	case StrategyAdaptive:
		return lb.selectAdaptive(candidates)
	case StrategyRandom:
		return candidates[lb.rng.Intn(len(candidates))]
	default:
		return lb.selectRoundRobin(candidates)
	}
}

func (lb *LoadBalancer) selectRoundRobin(candidates []string) string {
	idx := atomic.AddUint64(&lb.roundRobinIndex, 1) - 1
	return candidates[idx%uint64(len(candidates))]
}

func (lb *LoadBalancer) selectWeighted(candidates []string) string {
	lb.mu.Lock()
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, name := range candidates {
		s := lb.statsFor(name)
		w := 1000.0
		if s.hasLatencySample && s.avgResponseTimeMs > 0 {
			w = 1000.0 / s.avgResponseTimeMs
		}
		weights[i] = w
		total += w
	}
	lb.mu.Unlock()

	r := lb.rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

func (lb *LoadBalancer) selectLeastConnections(candidates []string) string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	best := candidates[0]
	bestConns := lb.statsFor(best).currentConns
	bestLatency := lb.statsFor(best).avgResponseTimeMs
	for _, name := range candidates[1:] {
		s := lb.statsFor(name)
		if s.currentConns < bestConns || (s.currentConns == bestConns && s.avgResponseTimeMs < bestLatency) {
			best = name
			bestConns = s.currentConns
			bestLatency = s.avgResponseTimeMs
		}
	}
	return best
}

func (lb *LoadBalancer) selectFastestResponse(candidates []string) string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	for _, name := range candidates {
		if !lb.statsFor(name).hasLatencySample {
			return name // providers with no samples get picked first
		}
	}
	best := candidates[0]
	bestLatency := lb.statsFor(best).avgResponseTimeMs
	for _, name := range candidates[1:] {
		lat := lb.statsFor(name).avgResponseTimeMs
		if lat < bestLatency {
			best = name
			bestLatency = lat
		}
	}
	return best
}

func (lb *LoadBalancer) selectAdaptive(candidates []string) string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	best := candidates[0]
	bestScore := lb.adaptiveScore(best)
	bestRequests := lb.statsFor(best).totalRequests
	for _, name := range candidates[1:] {
		score := lb.adaptiveScore(name)
		requests := lb.statsFor(name).totalRequests
		if score > bestScore || (score == bestScore && requests < bestRequests) {
			best = name
			bestScore = score
			bestRequests = requests
		}
	}
	return best
}

// adaptiveScore = 0.7*(100/avg_latency) + 0.3*max(0, 10-current_connections)
// (spec §4.3.4). Caller must hold lb.mu.
func (lb *LoadBalancer) adaptiveScore(name string) float64 {
	s := lb.statsFor(name)
	latency := s.avgResponseTimeMs
	if latency <= 0 {
		latency = 100 // no samples yet: treat as baseline-fast
	}
	latencyTerm := 100.0 / latency
	capacityTerm := 10.0 - float64(s.currentConns)
	if capacityTerm < 0 {
		capacityTerm = 0
	}
	return 0.7*latencyTerm + 0.3*capacityTerm
}
