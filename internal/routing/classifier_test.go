package routing

import (
	"strings"
	"testing"

	"github.com/tributary-ai/llm-gateway/internal/types"
)

func textReq(text string) *types.Request {
	return &types.Request{
		Data: map[string]interface{}{
			"messages": []interface{}{
				map[string]interface{}{"role": "user", "content": text},
			},
		},
	}
}

func TestClassifier_ToolsTakesPriorityOverEverything(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	req := &types.Request{
		Data: map[string]interface{}{
			"tools": []interface{}{map[string]interface{}{"name": "search"}},
			"messages": []interface{}{
				map[string]interface{}{"role": "user", "content": "think step by step about an image"},
			},
		},
	}
	got := c.Analyze(req)
	if got.Type != types.RequestTools {
		t.Fatalf("expected TOOLS to win over thinking/vision signals, got %v", got.Type)
	}
	if !got.RequiredCapabilities.Has(types.CapabilityTools) {
		t.Fatalf("expected TOOLS capability requirement, got %v", got.RequiredCapabilities)
	}
}

func TestClassifier_StreamingBeatsVisionAndThinking(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	req := &types.Request{
		Data: map[string]interface{}{
			"stream": true,
			"messages": []interface{}{
				map[string]interface{}{"role": "user", "content": "analyze this photo"},
			},
		},
	}
	got := c.Analyze(req)
	if got.Type != types.RequestStreaming {
		t.Fatalf("expected STREAMING, got %v", got.Type)
	}
}

func TestClassifier_MultimodalVsVisionOnly(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	withText := &types.Request{
		Data: map[string]interface{}{
			"messages": []interface{}{
				map[string]interface{}{"role": "user", "content": []interface{}{
					map[string]interface{}{"type": "image"},
					map[string]interface{}{"type": "text", "text": "what's in this picture?"},
				}},
			},
		},
	}
	if got := c.Analyze(withText).Type; got != types.RequestMultimodal {
		t.Fatalf("expected MULTIMODAL when image+text both present, got %v", got)
	}

	imageOnly := &types.Request{
		Data: map[string]interface{}{
			"messages": []interface{}{
				map[string]interface{}{"role": "user", "content": []interface{}{
					map[string]interface{}{"type": "image"},
				}},
			},
		},
	}
	if got := c.Analyze(imageOnly).Type; got != types.RequestVision {
		t.Fatalf("expected VISION for image-only content, got %v", got)
	}
}

func TestClassifier_VisionKeywordTriggersWithoutImagePart(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	got := c.Analyze(textReq("please describe this diagram for me"))
	if got.Type != types.RequestMultimodal {
		t.Fatalf("expected MULTIMODAL via keyword+text, got %v", got.Type)
	}
}

func TestClassifier_ThinkingKeyword(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	got := c.Analyze(textReq("Let's break down this problem step by step"))
	if got.Type != types.RequestThinking {
		t.Fatalf("expected THINKING, got %v", got.Type)
	}
	if !got.RequiredCapabilities.Has(types.CapabilityThinking) {
		t.Fatalf("expected THINKING capability requirement, got %v", got.RequiredCapabilities)
	}
}

func TestClassifier_KeywordMatchIsCaseInsensitive(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	got := c.Analyze(textReq("THINK carefully about this"))
	if got.Type != types.RequestThinking {
		t.Fatalf("expected case-insensitive THINKING match, got %v", got.Type)
	}
}

func TestClassifier_LongContextThreshold(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	longText := strings.Repeat("word ", 50000)
	got := c.Analyze(textReq(longText))
	if got.Type != types.RequestLongContext {
		t.Fatalf("expected LONG_CONTEXT for very large input, got %v (tokens=%d)", got.Type, got.EstimatedTokens)
	}
}

func TestClassifier_StandardFallback(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	got := c.Analyze(textReq("hello there"))
	if got.Type != types.RequestStandard {
		t.Fatalf("expected STANDARD, got %v", got.Type)
	}
	if got.RequiredCapabilities != 0 {
		t.Fatalf("expected no required capabilities for STANDARD, got %v", got.RequiredCapabilities)
	}
}

func TestClassifier_TokenEstimationMonotoneInLength(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	short := c.Analyze(textReq("hi")).EstimatedTokens
	long := c.Analyze(textReq(strings.Repeat("hello world ", 200))).EstimatedTokens
	if long <= short {
		t.Fatalf("expected longer text to estimate more tokens: short=%d long=%d", short, long)
	}
}

func TestClassifier_CustomKeywordConfig(t *testing.T) {
	cfg := DefaultClassifierConfig()
	cfg.ThinkingKeywords = []string{"ponder"}
	c := NewClassifier(cfg)

	if got := c.Analyze(textReq("please ponder this")).Type; got != types.RequestThinking {
		t.Fatalf("expected custom keyword 'ponder' to trigger THINKING, got %v", got)
	}
	if got := c.Analyze(textReq("think about this")).Type; got == types.RequestThinking {
		t.Fatalf("default keyword 'think' must not trigger once keyword set is overridden")
	}
}
