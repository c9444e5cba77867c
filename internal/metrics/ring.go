package metrics

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tributary-ai/llm-gateway/internal/types"
)

// MaxHistory is the bound on the in-memory request-metric ring (spec §4.7).
const MaxHistory = 10000

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_gateway_requests_total",
		Help: "Total number of routed requests by provider and outcome",
	}, []string{"provider", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_gateway_request_duration_seconds",
		Help:    "Duration of routed requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "request_type"})

	failoverTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_gateway_failover_total",
		Help: "Total number of failover attempts across all requests",
	})

	costTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_gateway_cost_usd_total",
		Help: "Total estimated cost in USD",
	}, []string{"provider"})
)

// Ring is a thread-safe bounded ring of RequestMetricRecord, append-only
// until evicted (spec §3 "Lifecycle").
type Ring struct {
	mu      sync.Mutex
	records []types.RequestMetricRecord
	head    int
	filled  bool

	enabled int32 // atomic bool

	totalRequests int64
	totalSuccess  int64
	failoverCount int64
	perProvider   map[string]int64
}

func NewRing() *Ring {
	return &Ring{
		records: make([]types.RequestMetricRecord, MaxHistory),
		enabled: 1,
		perProvider: make(map[string]int64),
	}
}

// SetEnabled toggles metrics collection (spec §4.6 enable_metrics_collection).
func (r *Ring) SetEnabled(enabled bool) {
	v := int32(0)
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&r.enabled, v)
}

func (r *Ring) Enabled() bool {
	return atomic.LoadInt32(&r.enabled) == 1
}

// Append records one request outcome. A no-op when collection is disabled.
func (r *Ring) Append(rec types.RequestMetricRecord) {
	if !r.Enabled() {
		return
	}

	r.mu.Lock()
	r.records[r.head] = rec
	r.head = (r.head + 1) % MaxHistory
	if r.head == 0 {
		r.filled = true
	}
	r.totalRequests++
	if rec.Success {
		r.totalSuccess++
	}
	r.perProvider[rec.ProviderName]++
	r.mu.Unlock()

	status := "success"
	if !rec.Success {
		status = "failure"
	}
	requestsTotal.WithLabelValues(rec.ProviderName, status).Inc()
	requestDuration.WithLabelValues(rec.ProviderName, string(rec.RequestType)).Observe(float64(rec.DurationMs) / 1000.0)
	costTotal.WithLabelValues(rec.ProviderName).Add(rec.CostUSD)
}

// RecordFailoverAttempt increments the failover counter (the gateway calls it
// once per failed dispatch attempt, not once per request).
func (r *Ring) RecordFailoverAttempt() {
	r.mu.Lock()
	r.failoverCount++
	r.mu.Unlock()
	failoverTotal.Inc()
}

// GetRecentMetrics returns up to n most-recently-appended records in
// reverse-chronological (strictly non-increasing EndTime) order (spec §4.7,
// §8 testable property).
func (r *Ring) GetRecentMetrics(n int) []types.RequestMetricRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.head
	if r.filled {
		count = MaxHistory
	}
	if n > count {
		n = count
	}
	if n <= 0 {
		return nil
	}

	out := make([]types.RequestMetricRecord, 0, n)
	idx := r.head - 1
	for i := 0; i < n; i++ {
		if idx < 0 {
			idx = MaxHistory - 1
		}
		out = append(out, r.records[idx])
		idx--
	}
	return out
}

// Clear empties the ring and resets counters (get_metrics aggregate state),
// used by GatewayManager.ClearMetrics.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.filled = false
	r.totalRequests = 0
	r.totalSuccess = 0
	r.failoverCount = 0
	r.perProvider = make(map[string]int64)
}

// Snapshot returns the aggregate MetricsSnapshot (spec §4.7).
func (r *Ring) Snapshot() types.MetricsSnapshot {
	r.mu.Lock()
	total := r.totalRequests
	successRate := 0.0
	if total > 0 {
		successRate = float64(r.totalSuccess) / float64(total)
	}
	perProvider := make(map[string]int64, len(r.perProvider))
	for k, v := range r.perProvider {
		perProvider[k] = v
	}
	failoverCount := r.failoverCount

	count := r.head
	if r.filled {
		count = MaxHistory
	}
	durations := make([]float64, 0, count)
	var sum float64
	idx := r.head - 1
	for i := 0; i < count; i++ {
		if idx < 0 {
			idx = MaxHistory - 1
		}
		d := float64(r.records[idx].DurationMs)
		durations = append(durations, d)
		sum += d
		idx--
	}
	r.mu.Unlock()

	avg := 0.0
	if len(durations) > 0 {
		avg = sum / float64(len(durations))
	}
	sort.Float64s(durations)

	return types.MetricsSnapshot{
		TotalRequests:    total,
		SuccessRate:      successRate,
		PerProviderCount: perProvider,
		FailoverCount:    failoverCount,
		AvgLatencyMs:     avg,
		P50LatencyMs:     percentile(durations, 0.50),
		P95LatencyMs:     percentile(durations, 0.95),
		P99LatencyMs:     percentile(durations, 0.99),
	}
}

// percentile expects a sorted ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
