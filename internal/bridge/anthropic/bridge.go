// Package anthropic implements bridge.Bridge for providers that speak
// Anthropic's native messages API directly.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/bridge"
	"github.com/tributary-ai/llm-gateway/internal/types"
)

// Config holds the connection details for an Anthropic-compatible upstream.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	// HealthCheckModel is the cheap model used for the synthetic single-token
	// probe in IsHealthy (spec's Open Question decision: probe via a real,
	// minimal chat call rather than a models-list endpoint Anthropic doesn't
	// expose).
	HealthCheckModel string
}

// Bridge wraps an anthropic-sdk-go client behind the bridge.Bridge contract.
type Bridge struct {
	name   string
	client *anthropic.Client
	cfg    Config
	logger *logrus.Logger

	inFlight int64
}

func New(name string, cfg Config, logger *logrus.Logger) *Bridge {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HealthCheckModel == "" {
		cfg.HealthCheckModel = "claude-3-haiku-20240307"
	}

	client := anthropic.NewClient(opts...)
	return &Bridge{
		name:   name,
		client: &client,
		cfg:    cfg,
		logger: logger,
	}
}

func (b *Bridge) ProviderName() string { return b.name }

func (b *Bridge) CurrentConcurrency() int {
	return int(atomic.LoadInt64(&b.inFlight))
}

func (b *Bridge) SendRequest(ctx context.Context, req *types.Request) (*types.Response, error) {
	atomic.AddInt64(&b.inFlight, 1)
	defer atomic.AddInt64(&b.inFlight, -1)

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	params, err := b.convertRequest(req)
	if err != nil {
		b.logger.WithError(err).WithField("provider", b.name).Error("failed to convert request to anthropic format")
		return &types.Response{
			Success:      false,
			ProviderName: b.name,
			StatusCode:   400,
			ErrorMessage: err.Error(),
		}, nil
	}

	start := time.Now()
	resp, err := b.client.Messages.New(ctx, *params)
	elapsed := time.Since(start)

	if err != nil {
		b.logger.WithError(err).WithField("provider", b.name).Warn("anthropic api call failed")
		return &types.Response{
			Success:        false,
			ProviderName:   b.name,
			StatusCode:     statusCodeFromError(err),
			ResponseTimeMs: elapsed.Milliseconds(),
			ErrorMessage:   err.Error(),
		}, nil
	}

	return &types.Response{
		Success:        true,
		ProviderName:   b.name,
		StatusCode:     200,
		ResponseTimeMs: elapsed.Milliseconds(),
		Data:           convertResponse(resp),
	}, nil
}

// IsHealthy issues a real, minimal single-token chat call rather than a
// models-list probe: Anthropic's API has no lightweight introspection
// endpoint, so the cheapest real signal is a 1-token completion against
// HealthCheckModel.
func (b *Bridge) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(b.cfg.HealthCheckModel),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
		MaxTokens: 1,
	})
	if err != nil {
		b.logger.WithError(err).WithField("provider", b.name).Debug("health probe failed")
		return false
	}
	return true
}

func (b *Bridge) RateLimitStatus(ctx context.Context) bridge.RateLimitStatus {
	return bridge.RateLimitStatus{}
}

func (b *Bridge) convertRequest(req *types.Request) (*anthropic.MessageNewParams, error) {
	var system string
	var messages []anthropic.MessageParam

	for _, msg := range req.Messages() {
		text := joinText(msg.Content)
		if msg.Role == "system" {
			system = text
			continue
		}
		if msg.Role == "user" {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		} else {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		}
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("request has no messages")
	}

	params := &anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: 1024,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}
	if maxTokens, ok := req.Data["max_tokens"].(float64); ok {
		params.MaxTokens = int64(maxTokens)
	}
	if temp, ok := req.Data["temperature"].(float64); ok {
		params.Temperature = anthropic.Float(temp)
	}

	if req.HasTools() {
		if rawTools, ok := req.Data["tools"].([]interface{}); ok {
			for _, rawTool := range rawTools {
				toolMap, ok := rawTool.(map[string]interface{})
				if !ok {
					continue
				}
				name, _ := toolMap["name"].(string)
				params.Tools = append(params.Tools, anthropic.ToolUnionParamOfTool(
					anthropic.ToolInputSchemaParam{},
					name,
				))
			}
		}
	}

	return params, nil
}

func joinText(parts []types.ContentPart) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func convertResponse(resp *anthropic.Message) map[string]interface{} {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	data := map[string]interface{}{
		"id":            resp.ID,
		"model":         string(resp.Model),
		"content":       text.String(),
		"finish_reason": string(resp.StopReason),
	}
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		data["usage"] = map[string]interface{}{
			"prompt_tokens":     int(resp.Usage.InputTokens),
			"completion_tokens": int(resp.Usage.OutputTokens),
			"total_tokens":      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}
	}
	return data
}

// statusCodeFromError reports a generic upstream-failure status. The SDK's
// error type does not reliably expose the original HTTP status across
// versions, so callers rely on ErrorMessage for detail instead.
func statusCodeFromError(err error) int {
	return 502
}

var _ bridge.Bridge = (*Bridge)(nil)
