// Package config loads and validates the gateway's configuration document
// (spec §6 "Configuration format") and applies it transactionally to a
// gateway.Manager: either every provider validates and its bridge
// constructs, or nothing in the document takes effect (spec §7
// "ConfigError").
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/llm-gateway/internal/bridge"
	"github.com/tributary-ai/llm-gateway/internal/bridge/anthropic"
	"github.com/tributary-ai/llm-gateway/internal/bridge/openaicompat"
	"github.com/tributary-ai/llm-gateway/internal/gateway"
	"github.com/tributary-ai/llm-gateway/internal/loadbalancer"
	"github.com/tributary-ai/llm-gateway/internal/middleware"
	"github.com/tributary-ai/llm-gateway/internal/types"
)

// ServerSection configures the embedded HTTP surface (out of scope for the
// routing core itself, but ambient per SPEC_FULL.md §2).
type ServerSection struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// LoggingSection configures the process-wide logrus logger.
type LoggingSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// bridgeKind names which concrete Bridge implementation a provider entry
// wires to. Not part of spec §6's document shape verbatim (the spec leaves
// "a concrete HTTP transport for upstream calls" out of scope) but a
// document needs some way to say which wire format a provider speaks, so
// this field is the module's own addition to the document shape.
type bridgeKind string

const (
	bridgeAnthropic    bridgeKind = "anthropic"
	bridgeOpenAICompat bridgeKind = "openaicompat"
	bridgeSynthetic    bridgeKind = "synthetic"
)

// ProviderEntry is one entry of the `providers` map in spec §6.
type ProviderEntry struct {
	Name string     `yaml:"name"`
	Type bridgeKind `yaml:"type"`

	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Models  []string `yaml:"models"`

	SupportsThinking        bool `yaml:"supports_thinking"`
	SupportsVision          bool `yaml:"supports_vision"`
	SupportsTools           bool `yaml:"supports_tools"`
	SupportsStreaming       bool `yaml:"supports_streaming"`
	SupportsJSONMode        bool `yaml:"supports_json_mode"`
	SupportsFunctionCalling bool `yaml:"supports_function_calling"`

	AvgResponseTimeMs float64 `yaml:"avg_response_time_ms"`
	SuccessRate       float64 `yaml:"success_rate"`

	MaxConcurrentRequests int     `yaml:"max_concurrent_requests"`
	MaxRequestsPerMinute  int     `yaml:"max_requests_per_minute"`
	CostPerInputToken     float64 `yaml:"cost_per_input_token"`
	CostPerOutputToken    float64 `yaml:"cost_per_output_token"`

	HealthCheckInterval types.DurationSeconds `yaml:"health_check_interval"`
	MaxFailures         int                   `yaml:"max_failures"`
	RecoveryDelay       types.DurationSeconds `yaml:"recovery_delay"`
	RequiredProbes      int                   `yaml:"required_probes"`

	PriorityScore float64 `yaml:"priority_score"`
	Enabled       *bool   `yaml:"enabled"`
}

func (e *ProviderEntry) enabled() bool {
	return e.Enabled == nil || *e.Enabled
}

func (e *ProviderEntry) capabilities() types.Capability {
	var c types.Capability
	if e.SupportsThinking {
		c |= types.CapabilityThinking
	}
	if e.SupportsVision {
		c |= types.CapabilityVision
	}
	if e.SupportsTools {
		c |= types.CapabilityTools
	}
	if e.SupportsStreaming {
		c |= types.CapabilityStreaming
	}
	if e.SupportsJSONMode {
		c |= types.CapabilityJSONMode
	}
	if e.SupportsFunctionCalling {
		c |= types.CapabilityFunctionCalling
	}
	return c
}

// toProviderConfig builds the core's types.ProviderConfig from the document
// entry (spec §3 "Provider config").
func (e *ProviderEntry) toProviderConfig(name string) *types.ProviderConfig {
	healthCheckInterval := e.HealthCheckInterval
	if healthCheckInterval == 0 {
		healthCheckInterval = types.DurationSeconds(30 * time.Second)
	}
	maxFailures := e.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	recoveryDelay := e.RecoveryDelay
	if recoveryDelay == 0 {
		recoveryDelay = types.DurationSeconds(60 * time.Second)
	}
	requiredProbes := e.RequiredProbes
	if requiredProbes == 0 {
		requiredProbes = 2
	}

	return &types.ProviderConfig{
		Name:                  name,
		BaseURL:               e.BaseURL,
		APIKey:                e.APIKey,
		Models:                e.Models,
		Capabilities:          e.capabilities(),
		MaxConcurrentRequests: e.MaxConcurrentRequests,
		MaxRequestsPerMinute:  e.MaxRequestsPerMinute,
		CostPerInputToken:     e.CostPerInputToken,
		CostPerOutputToken:    e.CostPerOutputToken,
		PriorityScore:         e.PriorityScore,
		Enabled:               e.enabled(),
		HealthCheck: types.HealthCheckParams{
			Interval:       healthCheckInterval,
			MaxFailures:    maxFailures,
			FailureTimeout: recoveryDelay,
			RequiredProbes: requiredProbes,
		},
		SeedAvgResponseTimeMs: e.AvgResponseTimeMs,
		SeedSuccessRate:       e.SuccessRate,
	}
}

func (e *ProviderEntry) buildBridge(name string, logger *logrus.Logger) (bridge.Bridge, error) {
	switch e.Type {
	case bridgeAnthropic:
		return anthropic.New(name, anthropic.Config{APIKey: e.APIKey, BaseURL: e.BaseURL}, logger), nil
	case bridgeSynthetic:
		return bridge.NewSyntheticBridge(name), nil
	case bridgeOpenAICompat, "":
		return openaicompat.New(name, openaicompat.Config{APIKey: e.APIKey, BaseURL: e.BaseURL}, logger), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown bridge type %q", name, e.Type)
	}
}

// Document is the root of spec §6's configuration format.
type Document struct {
	DefaultProvider  string                `yaml:"default_provider"`
	ThinkingProvider string                `yaml:"thinking_provider"`
	VisionProvider   string                `yaml:"vision_provider"`
	ToolsProvider    string                `yaml:"tools_provider"`
	RoutingPriority  types.RoutingPriority `yaml:"routing_priority"`
	LoadBalancer     loadbalancer.Strategy `yaml:"load_balancer"`

	Server   ServerSection                       `yaml:"server"`
	Logging  LoggingSection                       `yaml:"logging"`
	Security *middleware.SecurityMiddlewareConfig `yaml:"security"`

	Providers map[string]ProviderEntry `yaml:"providers"`
}

func (d *Document) setDefaults() {
	if d.RoutingPriority == "" {
		d.RoutingPriority = types.PriorityBalanced
	}
	if d.LoadBalancer == "" {
		d.LoadBalancer = loadbalancer.StrategyRoundRobin
	}
	if d.Server.Port == "" {
		d.Server.Port = "8080"
	}
	if d.Server.ReadTimeout == 0 {
		d.Server.ReadTimeout = 30 * time.Second
	}
	if d.Server.WriteTimeout == 0 {
		d.Server.WriteTimeout = 30 * time.Second
	}
	if d.Server.MaxHeaderBytes == 0 {
		d.Server.MaxHeaderBytes = 1 << 20
	}
	if d.Logging.Level == "" {
		d.Logging.Level = "info"
	}
	if d.Logging.Format == "" {
		d.Logging.Format = "json"
	}
	if d.Providers == nil {
		d.Providers = make(map[string]ProviderEntry)
	}
}

// applyEnvOverrides lets a small, well-known set of environment variables
// override file values (spec §6 does not mandate a precedence rule; this
// mirrors the teacher's env-override convention for the ambient server/
// logging sections while leaving per-provider secrets to api_key fields,
// which themselves commonly hold an `${VAR}` placeholder expanded below).
func (d *Document) applyEnvOverrides() {
	if v := os.Getenv("LLM_GATEWAY_PORT"); v != "" {
		d.Server.Port = v
	}
	if v := os.Getenv("LLM_GATEWAY_LOG_LEVEL"); v != "" {
		d.Logging.Level = v
	}
	if v := os.Getenv("LLM_GATEWAY_LOG_FORMAT"); v != "" {
		d.Logging.Format = v
	}
	if v := os.Getenv("LLM_GATEWAY_ROUTING_PRIORITY"); v != "" {
		d.RoutingPriority = types.RoutingPriority(strings.ToUpper(v))
	}
	for name, entry := range d.Providers {
		entry.APIKey = expandEnv(entry.APIKey)
		d.Providers[name] = entry
	}
}

// expandEnv resolves a "${VAR}" placeholder to the named environment
// variable, leaving anything else untouched.
func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

var validPriorities = map[types.RoutingPriority]bool{
	types.PriorityCost: true, types.PriorityPerformance: true,
	types.PriorityReliability: true, types.PriorityBalanced: true,
	types.PriorityCustom: true,
}

var validStrategies = map[loadbalancer.Strategy]bool{
	loadbalancer.StrategyRoundRobin: true, loadbalancer.StrategyWeighted: true,
	loadbalancer.StrategyLeastConnections: true, loadbalancer.StrategyFastestResponse: true,
	loadbalancer.StrategyAdaptive: true, loadbalancer.StrategyRandom: true,
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate aggregates every defect in the document instead of stopping at
// the first one, so a caller can fix them all at once (spec §6 "Loading is
// transactional: ... validation errors are aggregated and returned").
func (d *Document) Validate() error {
	var errs []string

	if !validPriorities[d.RoutingPriority] {
		errs = append(errs, fmt.Sprintf("invalid routing_priority %q", d.RoutingPriority))
	}
	if !validStrategies[d.LoadBalancer] {
		errs = append(errs, fmt.Sprintf("invalid load_balancer %q", d.LoadBalancer))
	}
	if !validLogLevels[strings.ToLower(d.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("invalid log level %q", d.Logging.Level))
	}
	if len(d.Providers) == 0 {
		errs = append(errs, "at least one provider must be configured")
	}

	for name, entry := range d.Providers {
		if name == "" {
			errs = append(errs, "provider entry has empty name key")
			continue
		}
		cfg := entry.toProviderConfig(name)
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
		if entry.enabled() && entry.APIKey == "" && entry.Type != bridgeSynthetic {
			errs = append(errs, fmt.Sprintf("provider %q: api_key is required", name))
		}
	}

	for _, specialized := range []struct{ field, value string }{
		{"default_provider", d.DefaultProvider},
		{"thinking_provider", d.ThinkingProvider},
		{"vision_provider", d.VisionProvider},
		{"tools_provider", d.ToolsProvider},
	} {
		if specialized.value == "" {
			continue
		}
		if _, ok := d.Providers[specialized.value]; !ok {
			errs = append(errs, fmt.Sprintf("%s %q references an unconfigured provider", specialized.field, specialized.value))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Load reads the document from path (if non-empty), applies environment
// overrides, fills defaults, and validates it transactionally. An empty
// path skips the file read; the resulting document must still pass
// Validate, which rejects a document with no providers.
func Load(path string) (*Document, error) {
	var doc Document
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("config: parsing %q: %w", path, err)
		}
	}
	doc.setDefaults()
	doc.applyEnvOverrides()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveToFile serializes the document back to YAML, for the HTTP layer's
// configuration-checkpoint path (spec §6 "Persisted state": the core itself
// is stateless, the HTTP layer may checkpoint to disk).
func (d *Document) SaveToFile(path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Apply wires every provider in the document into mgr: config, bridge,
// specialized-provider assignment, routing priority and load balancer
// strategy. It is transactional (spec §6): every ProviderConfig and bridge
// is built and validated before anything is registered on mgr, so a single
// bad entry leaves mgr untouched.
func Apply(doc *Document, mgr *gateway.Manager, logger *logrus.Logger) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	type built struct {
		name   string
		config *types.ProviderConfig
		bridge bridge.Bridge
	}
	prepared := make([]built, 0, len(doc.Providers))
	for name, entry := range doc.Providers {
		cfg := entry.toProviderConfig(name)
		b, err := entry.buildBridge(name, logger)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		prepared = append(prepared, built{name: name, config: cfg, bridge: b})
	}

	for _, p := range prepared {
		if err := mgr.AddProvider(p.name, p.config); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if err := mgr.AddProviderAdapter(p.name, p.bridge); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	if doc.DefaultProvider != "" {
		mgr.SetDefaultProvider(doc.DefaultProvider)
	}
	if doc.ThinkingProvider != "" {
		mgr.SetThinkingProvider(doc.ThinkingProvider)
	}
	if doc.VisionProvider != "" {
		mgr.SetVisionProvider(doc.VisionProvider)
	}
	if doc.ToolsProvider != "" {
		mgr.SetToolsProvider(doc.ToolsProvider)
	}
	mgr.SetRoutingPriority(doc.RoutingPriority)
	mgr.EnableLoadBalancer(doc.LoadBalancer)
	return nil
}

// NewLogger builds the process logger per the document's logging section
// (spec's ambient "Logging" stack, SPEC_FULL.md §2).
func NewLogger(section LoggingSection) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(strings.ToLower(section.Level))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger.SetLevel(level)
	if strings.ToLower(section.Format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}
