package types

import "time"

// Response is what route_request ultimately returns to its caller. Upstream
// failures never surface as a Go error from the gateway — they are encoded
// here (spec §4.6.2/§7).
type Response struct {
	Success         bool                   `json:"success"`
	ProviderName    string                 `json:"provider_name"`
	StatusCode      int                    `json:"status_code"`
	ResponseTimeMs  int64                  `json:"response_time_ms"`
	Data            map[string]interface{} `json:"data,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
}

// RoutingDecision is the output of RoutingLogic.Route (spec §3/§4.3.5).
type RoutingDecision struct {
	SelectedProvider     string          `json:"selected_provider"`
	AlternativeProviders []string        `json:"alternative_providers"`
	PriorityUsed         RoutingPriority `json:"priority_used"`
	SelectionScore       float64         `json:"selection_score"`
	Reasoning            string          `json:"reasoning"`
}

// Failed reports whether no candidate survived filtering (spec §4.3.5: "If
// no candidate passes §4.3.2, the decision is a well-formed failure").
func (d *RoutingDecision) Failed() bool {
	return d.SelectedProvider == ""
}

// RequestMetricRecord is one entry in the bounded metric ring (spec §3
// "Request metric record", §4.7).
type RequestMetricRecord struct {
	ID               string    `json:"id"`
	ProviderName     string    `json:"provider_name"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	DurationMs       int64     `json:"duration_ms"`
	Success          bool      `json:"success"`
	HTTPStatusCode   int       `json:"http_status_code"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	RequestTokens    int       `json:"request_tokens"`
	ResponseTokens   int       `json:"response_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	RequestType      RequestType `json:"request_type"`
	RoutingReasoning string    `json:"routing_reasoning"`
}

// MetricsSnapshot is the aggregate view returned by GetMetrics (spec §4.7).
type MetricsSnapshot struct {
	TotalRequests    int64              `json:"total_requests"`
	SuccessRate      float64            `json:"success_rate"`
	PerProviderCount map[string]int64   `json:"per_provider_count"`
	FailoverCount    int64              `json:"failover_count"`
	AvgLatencyMs     float64            `json:"avg_latency_ms"`
	P50LatencyMs     float64            `json:"p50_latency_ms"`
	P95LatencyMs     float64            `json:"p95_latency_ms"`
	P99LatencyMs     float64            `json:"p99_latency_ms"`
}

// FailoverStatus is the per-provider state the FailoverManager tracks (spec
// §3 "Failover status").
type FailoverStatus struct {
	ProviderName    string    `json:"provider_name"`
	IsFailed        bool      `json:"is_failed"`
	FailTime        time.Time `json:"fail_time"`
	CooldownMinutes float64   `json:"cooldown_minutes"`
	FailureCount    int       `json:"failure_count"`
}
