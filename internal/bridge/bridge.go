// Package bridge defines the capability contract the routing core uses to
// actually dispatch a call to one upstream provider (spec §6 "Bridge
// (consumed)"). The core never speaks a provider's wire format directly —
// it only calls through a Bridge.
package bridge

import (
	"context"
	"time"

	"github.com/tributary-ai/llm-gateway/internal/types"
)

// RateLimitStatus reports a bridge's view of its own rate-limit budget.
type RateLimitStatus struct {
	RequestsUsed  int
	RequestsLimit int
	ResetTime     time.Time
	RetryAfter    time.Duration
}

// Bridge is the opaque capability to send a request to one upstream
// provider (spec §1 item 1, §6). Concrete bridges (cerebras, z.ai, minimax,
// a synthetic stub) are regular implementations; the core is polymorphic
// over this interface and never type-switches on a concrete bridge type.
type Bridge interface {
	SendRequest(ctx context.Context, req *types.Request) (*types.Response, error)
	IsHealthy(ctx context.Context) bool
	ProviderName() string
	RateLimitStatus(ctx context.Context) RateLimitStatus
	// CurrentConcurrency reports in-flight requests for this bridge, used by
	// candidate filtering's max_concurrent_requests check (spec §4.3.2). A
	// bridge that cannot track this returns -1 and the filter is skipped.
	CurrentConcurrency() int
}

// ErrorBridge is a sentinel bridge for misconfigured providers: it always
// fails with 503 and reports itself unhealthy (spec §6). Useful as a
// placeholder registered alongside a ProviderConfig whose real bridge failed
// to construct (e.g. bad API key format), so the provider still shows up in
// the registry. Its health record starts HEALTHY, so it can still be selected
// (and fail) until enough failures open its circuit.
type ErrorBridge struct {
	Name   string
	Reason string
}

func NewErrorBridge(name, reason string) *ErrorBridge {
	return &ErrorBridge{Name: name, Reason: reason}
}

func (b *ErrorBridge) SendRequest(ctx context.Context, req *types.Request) (*types.Response, error) {
	return &types.Response{
		Success:      false,
		ProviderName: b.Name,
		StatusCode:   503,
		ErrorMessage: "provider unavailable: " + b.Reason,
	}, nil
}

func (b *ErrorBridge) IsHealthy(ctx context.Context) bool { return false }
func (b *ErrorBridge) ProviderName() string               { return b.Name }
func (b *ErrorBridge) CurrentConcurrency() int            { return -1 }
func (b *ErrorBridge) RateLimitStatus(ctx context.Context) RateLimitStatus {
	return RateLimitStatus{}
}

var _ Bridge = (*ErrorBridge)(nil)
