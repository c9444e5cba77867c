package types

import "time"

// Request is the gateway's normalized view of an inbound call. Its Data
// payload is semantically an Anthropic chat-completions body (messages,
// optional tools, optional streaming flag) but is kept opaque here — the
// HTTP layer is responsible for parsing wire JSON into this shape and for
// translating Response back out (spec §1, §6).
type Request struct {
	Model         string                 `json:"model"`
	Method        string                 `json:"method"`
	Data          map[string]interface{} `json:"data"`
	CorrelationID string                 `json:"correlation_id,omitempty"`

	// RoutingPriority, when non-empty, overrides the gateway's configured
	// default priority strategy for this one request (spec §4.3.3).
	RoutingPriority RoutingPriority `json:"routing_priority,omitempty"`
}

// Message and ContentPart mirror the small slice of the Anthropic wire
// format the core needs to read for classification (spec §4.3.1). The HTTP
// layer decodes the full body; these are the fields RoutingLogic consults.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ContentPart struct {
	Type string `json:"type"` // "text", "image", "tool_use", "tool_result"
	Text string `json:"text,omitempty"`
}

// Messages extracts req.Data["messages"] into typed Message values. Returns
// nil if the field is absent or malformed — classification degrades to
// STANDARD rather than failing the request.
func (r *Request) Messages() []Message {
	raw, ok := r.Data["messages"]
	if !ok {
		return nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		msg := Message{}
		if role, ok := m["role"].(string); ok {
			msg.Role = role
		}
		switch content := m["content"].(type) {
		case string:
			msg.Content = []ContentPart{{Type: "text", Text: content}}
		case []interface{}:
			for _, partRaw := range content {
				part, ok := partRaw.(map[string]interface{})
				if !ok {
					continue
				}
				cp := ContentPart{}
				if t, ok := part["type"].(string); ok {
					cp.Type = t
				}
				if t, ok := part["text"].(string); ok {
					cp.Text = t
				}
				msg.Content = append(msg.Content, cp)
			}
		}
		out = append(out, msg)
	}
	return out
}

// HasTools reports whether the request carries a non-empty tools array.
func (r *Request) HasTools() bool {
	tools, ok := r.Data["tools"].([]interface{})
	return ok && len(tools) > 0
}

// WantsStream reports whether the request asked for a streaming reply.
func (r *Request) WantsStream() bool {
	stream, ok := r.Data["stream"].(bool)
	return ok && stream
}

// WantsJSONMode reports whether the request asked for a structured/JSON
// response format.
func (r *Request) WantsJSONMode() bool {
	_, ok := r.Data["response_format"]
	return ok
}

// RequestType is the classification bucket a request falls into (spec
// §3/§4.3.1).
type RequestType string

const (
	RequestStandard    RequestType = "STANDARD"
	RequestThinking    RequestType = "THINKING"
	RequestVision      RequestType = "VISION"
	RequestMultimodal  RequestType = "MULTIMODAL"
	RequestTools       RequestType = "TOOLS"
	RequestStreaming   RequestType = "STREAMING"
	RequestLongContext RequestType = "LONG_CONTEXT"
)

// RequiredCapabilities returns the capability bits a request of this type
// must find in a candidate provider (spec §4.3.1 table).
func (t RequestType) RequiredCapabilities() Capability {
	switch t {
	case RequestThinking:
		return CapabilityThinking
	case RequestVision, RequestMultimodal:
		return CapabilityVision
	case RequestTools:
		return CapabilityTools | CapabilityFunctionCalling
	case RequestStreaming:
		return CapabilityStreaming
	default:
		return 0
	}
}

// RoutingPriority selects the scoring strategy used to rank candidates
// (spec §4.3.3).
type RoutingPriority string

const (
	PriorityCost        RoutingPriority = "COST"
	PriorityPerformance RoutingPriority = "PERFORMANCE"
	PriorityReliability RoutingPriority = "RELIABILITY"
	PriorityBalanced    RoutingPriority = "BALANCED"
	PriorityCustom      RoutingPriority = "CUSTOM"
)

// RequestAnalysis is the pure-functional output of classifying a Request
// (spec §3 "Request analysis").
type RequestAnalysis struct {
	Type                 RequestType `json:"type"`
	RequiredCapabilities Capability  `json:"required_capabilities"`
	EstimatedTokens      int         `json:"estimated_tokens"`
	RequiresStreaming    bool        `json:"requires_streaming"`
	RequiresTools        bool        `json:"requires_tools"`
	RequiresJSONMode     bool        `json:"requires_json_mode"`
	CostSensitivity      float64     `json:"cost_sensitivity"`
	LatencySensitivity   float64     `json:"latency_sensitivity"`
}

// CustomSelector is the injection point for RoutingPriority CUSTOM (spec
// §4.3.3): given the candidate names, the analysis, and a health snapshot
// keyed by provider name, it returns the chosen provider name.
type CustomSelector func(candidates []string, analysis RequestAnalysis, health map[string]HealthStatus) string

// RequestTimestamp is attached by the gateway at intake, used for metric
// record ordering and deadline derivation (spec §5).
type RequestTimestamp = time.Time
