// Package openaicompat implements bridge.Bridge for any upstream that speaks
// an OpenAI-compatible chat-completions API. Cerebras, Z.AI and MiniMax are
// all modeled this way: same wire shape, different BaseURL and API key.
package openaicompat

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/bridge"
	"github.com/tributary-ai/llm-gateway/internal/types"
)

// Config holds the connection details for one OpenAI-compatible upstream.
type Config struct {
	APIKey  string
	BaseURL string
	OrgID   string
	Timeout time.Duration
}

// Bridge wraps a go-openai client behind the bridge.Bridge contract.
type Bridge struct {
	name   string
	client *openai.Client
	cfg    Config
	logger *logrus.Logger

	inFlight int64
}

func New(name string, cfg Config, logger *logrus.Logger) *Bridge {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.OrgID != "" {
		clientCfg.OrgID = cfg.OrgID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Bridge{
		name:   name,
		client: openai.NewClientWithConfig(clientCfg),
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

	openaiReq, err := b.convertRequest(req)
	if err != nil {
		b.logger.WithError(err).WithField("provider", b.name).Error("failed to convert request to openai format")
		return &types.Response{
			Success:      false,
			ProviderName: b.name,
			StatusCode:   400,
			ErrorMessage: err.Error(),
		}, nil
	}

	start := time.Now()
	resp, err := b.client.CreateChatCompletion(ctx, *openaiReq)
	elapsed := time.Since(start)

	if err != nil {
		b.logger.WithError(err).WithField("provider", b.name).Warn("openai-compatible api call failed")
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
		Data:           convertResponse(&resp),
	}, nil
}

func (b *Bridge) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := b.client.ListModels(ctx)
	if err != nil {
		b.logger.WithError(err).WithField("provider", b.name).Debug("health probe failed")
		return false
	}
	return true
}

func (b *Bridge) RateLimitStatus(ctx context.Context) bridge.RateLimitStatus {
	// go-openai does not expose rate-limit headers through its typed client;
	// callers fall back to candidate filtering on MaxRequestsPerMinute instead.
	return bridge.RateLimitStatus{}
}

func (b *Bridge) convertRequest(req *types.Request) (*openai.ChatCompletionRequest, error) {
	var messages []openai.ChatCompletionMessage
	for _, msg := range req.Messages() {
		text := ""
		for _, part := range msg.Content {
			if part.Type == "text" {
				text += part.Text
			}
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: text,
		})
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("request has no messages")
	}

	out := &openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   req.WantsStream(),
	}

	if maxTokens, ok := req.Data["max_tokens"].(float64); ok {
		out.MaxTokens = int(maxTokens)
	}
	if temp, ok := req.Data["temperature"].(float64); ok {
		out.Temperature = float32(temp)
	}

	if req.HasTools() {
		if rawTools, ok := req.Data["tools"].([]interface{}); ok {
			for _, rawTool := range rawTools {
				toolMap, ok := rawTool.(map[string]interface{})
				if !ok {
					continue
				}
				name, _ := toolMap["name"].(string)
				desc, _ := toolMap["description"].(string)
				params, _ := toolMap["input_schema"].(map[string]interface{})
				out.Tools = append(out.Tools, openai.Tool{
					Type: openai.ToolTypeFunction,
					Function: &openai.FunctionDefinition{
						Name:        name,
						Description: desc,
						Parameters:  params,
					},
				})
			}
		}
	}

	if req.WantsJSONMode() {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	return out, nil
}

func convertResponse(resp *openai.ChatCompletionResponse) map[string]interface{} {
	data := map[string]interface{}{
		"id":    resp.ID,
		"model": resp.Model,
	}
	if len(resp.Choices) > 0 {
		data["content"] = resp.Choices[0].Message.Content
		data["finish_reason"] = string(resp.Choices[0].FinishReason)
		if len(resp.Choices[0].Message.ToolCalls) > 0 {
			var calls []map[string]interface{}
			for _, tc := range resp.Choices[0].Message.ToolCalls {
				calls = append(calls, map[string]interface{}{
					"id":        tc.ID,
					"name":      tc.Function.Name,
					"arguments": tc.Function.Arguments,
				})
			}
			data["tool_calls"] = calls
		}
	}
	if resp.Usage.TotalTokens > 0 {
		data["usage"] = map[string]interface{}{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	return data
}

// statusCodeFromError extracts the upstream HTTP status from a go-openai
// APIError when available, else reports a generic 502 (bad gateway).
func statusCodeFromError(err error) int {
	if apiErr, ok := err.(*openai.APIError); ok && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode
	}
	return 502
}

var _ bridge.Bridge = (*Bridge)(nil)
