package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tributary-ai/llm-gateway/internal/types"
)

// SyntheticBridge is an in-process stub bridge: it never calls an external
// network, answering every request with a canned 200 after a configurable
// artificial latency. It exists for local development, fault-injection
// tests and the "synthetic" placeholder provider mentioned in the design
// notes (spec §9).
type SyntheticBridge struct {
	Name      string
	Latency   time.Duration
	FailEvery int // if > 0, every Nth call fails with 502 (fault injection)

	calls       int64
	inFlight    int64
	forceHealth *atomic.Bool
}

func NewSyntheticBridge(name string) *SyntheticBridge {
	return &SyntheticBridge{Name: name, Latency: 5 * time.Millisecond}
}

func (b *SyntheticBridge) SendRequest(ctx context.Context, req *types.Request) (*types.Response, error) {
	atomic.AddInt64(&b.inFlight, 1)
	defer atomic.AddInt64(&b.inFlight, -1)

	n := atomic.AddInt64(&b.calls, 1)

	select {
	case <-time.After(b.Latency):
	case <-ctx.Done():
		return &types.Response{
			Success:      false,
			ProviderName: b.Name,
			StatusCode:   408,
			ErrorMessage: "cancelled",
		}, nil
	}

	if b.FailEvery > 0 && n%int64(b.FailEvery) == 0 {
		return &types.Response{
			Success:      false,
			ProviderName: b.Name,
			StatusCode:   502,
			ErrorMessage: "synthetic induced failure",
		}, nil
	}

	return &types.Response{
		Success:        true,
		ProviderName:   b.Name,
		StatusCode:     200,
		ResponseTimeMs: b.Latency.Milliseconds(),
		Data: map[string]interface{}{
			"model":   req.Model,
			"content": "synthetic response",
		},
	}, nil
}

func (b *SyntheticBridge) IsHealthy(ctx context.Context) bool {
	if b.forceHealth != nil {
		return b.forceHealth.Load()
	}
	return true
}

// SetForcedHealth lets tests pin the probe result deterministically.
func (b *SyntheticBridge) SetForcedHealth(healthy bool) {
	if b.forceHealth == nil {
		b.forceHealth = &atomic.Bool{}
	}
	b.forceHealth.Store(healthy)
}

func (b *SyntheticBridge) ProviderName() string    { return b.Name }
func (b *SyntheticBridge) CurrentConcurrency() int { return int(atomic.LoadInt64(&b.inFlight)) }

func (b *SyntheticBridge) RateLimitStatus(ctx context.Context) RateLimitStatus {
	return RateLimitStatus{RequestsLimit: 0}
}

var _ Bridge = (*SyntheticBridge)(nil)
