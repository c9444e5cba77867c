// Package routing classifies requests, filters candidates, scores them by
// priority strategy, and produces a RoutingDecision (spec §4.3).
package routing

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/tributary-ai/llm-gateway/internal/types"
)

// defaultVisionKeywords and defaultThinkingKeywords are the configurable
// keyword sets used by classification (spec §4.3.1). They are data, not
// code — callers may override via ClassifierConfig.
var defaultVisionKeywords = []string{
	"image", "photo", "picture", "visual", "diagram", "chart",
	"screenshot", "graph", "figure", "drawing", "illustration",
}

var defaultThinkingKeywords = []string{
	"think", "reason", "analyze", "step by step", "break down",
	"explain", "consider", "evaluate", "compare", "conclude",
}

// ClassifierConfig holds the tunables for request classification.
type ClassifierConfig struct {
	VisionKeywords        []string
	ThinkingKeywords       []string
	LongContextThreshold  int
	TokenEncoding         string
}

// DefaultClassifierConfig returns the spec's documented defaults (spec
// §4.3.1).
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		VisionKeywords:       defaultVisionKeywords,
		ThinkingKeywords:     defaultThinkingKeywords,
		LongContextThreshold: 32768,
		TokenEncoding:        "cl100k_base",
	}
}

// Classifier derives a RequestAnalysis from a Request. Token estimation
// uses tiktoken-go's cl100k_base encoding over the concatenated
// role-prefixed message text, falling back to a chars/4 approximation if
// the encoding cannot be loaded (Open Question decision, SPEC_FULL.md §5).
type Classifier struct {
	cfg ClassifierConfig

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	if len(cfg.VisionKeywords) == 0 {
		cfg.VisionKeywords = defaultVisionKeywords
	}
	if len(cfg.ThinkingKeywords) == 0 {
		cfg.ThinkingKeywords = defaultThinkingKeywords
	}
	if cfg.LongContextThreshold <= 0 {
		cfg.LongContextThreshold = 32768
	}
	if cfg.TokenEncoding == "" {
		cfg.TokenEncoding = "cl100k_base"
	}
	return &Classifier{cfg: cfg}
}

// Analyze implements GatewayManager.analyze_request's pure classification
// half (spec §4.3.1).
func (c *Classifier) Analyze(req *types.Request) types.RequestAnalysis {
	messages := req.Messages()
	text := concatText(messages)
	lowerText := strings.ToLower(text)

	estimatedTokens := c.estimateTokens(messages)

	reqType := c.classify(req, messages, lowerText, estimatedTokens)

	return types.RequestAnalysis{
		Type:                 reqType,
		RequiredCapabilities: reqType.RequiredCapabilities(),
		EstimatedTokens:      estimatedTokens,
		RequiresStreaming:    req.WantsStream(),
		RequiresTools:        req.HasTools(),
		RequiresJSONMode:     req.WantsJSONMode(),
		CostSensitivity:      costSensitivity(req.RoutingPriority),
		LatencySensitivity:   latencySensitivity(req.RoutingPriority),
	}
}

// classify applies the first-match ordering from spec §4.3.1.
func (c *Classifier) classify(req *types.Request, messages []types.Message, lowerText string, estimatedTokens int) types.RequestType {
	if req.HasTools() || containsToolCallMarker(messages) {
		return types.RequestTools
	}
	if req.WantsStream() {
		return types.RequestStreaming
	}

	hasImage, hasText := contentShape(messages)
	visionSignal := hasImage || containsAny(lowerText, c.cfg.VisionKeywords)
	if visionSignal {
		if hasText {
			return types.RequestMultimodal
		}
		return types.RequestVision
	}

	if containsAny(lowerText, c.cfg.ThinkingKeywords) {
		return types.RequestThinking
	}

	if estimatedTokens > c.cfg.LongContextThreshold {
		return types.RequestLongContext
	}

	return types.RequestStandard
}

func contentShape(messages []types.Message) (hasImage, hasText bool) {
	for _, msg := range messages {
		for _, part := range msg.Content {
			switch part.Type {
			case "image":
				hasImage = true
			case "text":
				if strings.TrimSpace(part.Text) != "" {
					hasText = true
				}
			}
		}
	}
	return
}

func containsToolCallMarker(messages []types.Message) bool {
	for _, msg := range messages {
		for _, part := range msg.Content {
			if part.Type == "tool_use" || part.Type == "tool_result" {
				return true
			}
		}
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func concatText(messages []types.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		for _, part := range msg.Content {
			if part.Type == "text" {
				b.WriteString(part.Text)
				b.WriteString(" ")
			}
		}
	}
	return b.String()
}

func (c *Classifier) estimateTokens(messages []types.Message) int {
	c.encOnce.Do(func() {
		c.enc, c.encErr = tiktoken.GetEncoding(c.cfg.TokenEncoding)
	})

	text := concatText(messages)
	if c.encErr != nil || c.enc == nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

func costSensitivity(p types.RoutingPriority) float64 {
	switch p {
	case types.PriorityCost:
		return 1.0
	case types.PriorityBalanced:
		return 0.5
	default:
		return 0.2
	}
}

func latencySensitivity(p types.RoutingPriority) float64 {
	switch p {
	case types.PriorityPerformance:
		return 1.0
	case types.PriorityBalanced:
		return 0.5
	default:
		return 0.2
	}
}
