package types

import "fmt"

// Capability is a bitset of features a provider can honor, or a request
// requires. Kept as a single bitset so candidate filtering is a cheap
// bitwise compare instead of walking a set.
type Capability uint32

const (
	CapabilityThinking Capability = 1 << iota
	CapabilityVision
	CapabilityTools
	CapabilityStreaming
	CapabilityJSONMode
	CapabilityFunctionCalling
)

var capabilityNames = map[Capability]string{
	CapabilityThinking:        "thinking",
	CapabilityVision:          "vision",
	CapabilityTools:           "tools",
	CapabilityStreaming:       "streaming",
	CapabilityJSONMode:        "json_mode",
	CapabilityFunctionCalling: "function_calling",
}

var capabilityOrder = []Capability{
	CapabilityThinking, CapabilityVision, CapabilityTools,
	CapabilityStreaming, CapabilityJSONMode, CapabilityFunctionCalling,
}

// Has reports whether c can satisfy the requirement want. An empty want is
// always satisfied. A non-empty want is satisfied if c has at least one of
// its bits set: most request types require a single bit, but TOOLS requires
// TOOLS ∨ FUNCTION_CALLING (spec §4.3.1), so "any bit present" is the rule
// that covers both cases without a separate OR-group mechanism.
func (c Capability) Has(want Capability) bool {
	if want == 0 {
		return true
	}
	return c&want != 0
}

// String renders the set bits as a comma-separated list, for logging.
func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	s := ""
	for _, bit := range capabilityOrder {
		if c.Has(bit) {
			if s != "" {
				s += ","
			}
			s += capabilityNames[bit]
		}
	}
	return s
}

// ModelInfo describes one model a provider serves.
type ModelInfo struct {
	Name             string   `json:"name" yaml:"name"`
	MaxContextWindow int      `json:"max_context_window" yaml:"max_context_window"`
	MaxOutputTokens  int      `json:"max_output_tokens" yaml:"max_output_tokens"`
	Tags             []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// HealthCheckParams groups the provider-config fields that drive the health
// monitor's state machine (spec §3/§4.2).
type HealthCheckParams struct {
	Interval       DurationSeconds `json:"health_check_interval" yaml:"health_check_interval"`
	MaxFailures    int             `json:"max_failures" yaml:"max_failures"`
	FailureTimeout DurationSeconds `json:"failure_timeout" yaml:"failure_timeout"`
	RequiredProbes int             `json:"required_probes" yaml:"required_probes"`
}

// ProviderConfig is the administrative description of one upstream provider.
//
// Invariants (spec §3): Name non-empty and unique within a registry; BaseURL
// has a scheme; capability bits are only set if the provider can actually
// honor them; every numeric field is non-negative.
type ProviderConfig struct {
	Name         string     `json:"name" yaml:"name"`
	BaseURL      string     `json:"base_url" yaml:"base_url"`
	APIKey       string     `json:"api_key" yaml:"api_key"`
	Models       []string   `json:"models" yaml:"models"`
	Capabilities Capability `json:"capability_flags" yaml:"capability_flags"`

	MaxConcurrentRequests int `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	MaxRequestsPerMinute  int `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`

	CostPerInputToken  float64 `json:"cost_per_input_token" yaml:"cost_per_input_token"`
	CostPerOutputToken float64 `json:"cost_per_output_token" yaml:"cost_per_output_token"`
	PriorityScore      float64 `json:"priority_score" yaml:"priority_score"`
	Enabled            bool    `json:"enabled" yaml:"enabled"`

	HealthCheck HealthCheckParams `json:"health_check" yaml:"health_check"`

	// Seed performance estimates, used until real samples replace them.
	SeedAvgResponseTimeMs float64 `json:"seed_avg_response_time_ms" yaml:"seed_avg_response_time_ms"`
	SeedSuccessRate       float64 `json:"seed_success_rate" yaml:"seed_success_rate"`
}

// SupportsModel reports whether the provider is allowed to serve model.
// An empty Models list means "any model" (used by generic/synthetic bridges).
func (p *ProviderConfig) SupportsModel(model string) bool {
	if model == "" || len(p.Models) == 0 {
		return true
	}
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Validate enforces the provider-config invariants from spec §3.
func (p *ProviderConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("provider config: name must not be empty")
	}
	if !hasScheme(p.BaseURL) {
		return fmt.Errorf("provider config %q: base_url %q must include a scheme", p.Name, p.BaseURL)
	}
	if p.MaxConcurrentRequests < 0 || p.MaxRequestsPerMinute < 0 {
		return fmt.Errorf("provider config %q: concurrency/rate limits must be non-negative", p.Name)
	}
	if p.CostPerInputToken < 0 || p.CostPerOutputToken < 0 {
		return fmt.Errorf("provider config %q: cost fields must be non-negative", p.Name)
	}
	if p.HealthCheck.MaxFailures < 0 {
		return fmt.Errorf("provider config %q: max_failures must be non-negative", p.Name)
	}
	return nil
}

func hasScheme(url string) bool {
	for i := 1; i+2 < len(url); i++ {
		if url[i] == ':' && url[i+1] == '/' && url[i+2] == '/' {
			return true
		}
	}
	return false
}

// HealthStatus is a point-in-time snapshot exposed to callers/admin tooling.
type HealthStatus struct {
	Provider            string `json:"provider"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastErrorTime       int64  `json:"last_error_time,omitempty"`
	LastSuccessTime     int64  `json:"last_success_time,omitempty"`
	CircuitOpenTime     int64  `json:"circuit_open_time,omitempty"`
}
