package types

// ContentTypeJSON is the constant content marker carried by every CanonicalResponse.
const ContentTypeJSON = "json"

// UpstreamShape classifies a non-streaming upstream payload (or a single
// streaming frame) into one of the structures the provider is known to emit.
type UpstreamShape int

const (
	ShapeUnrecognized UpstreamShape = iota
	// ShapeOpenAICompatible carries a `choices` array.
	ShapeOpenAICompatible
	// ShapeStructuredOutputArray carries an `output` array of typed items.
	ShapeStructuredOutputArray
	// ShapeLegacyDirectText carries a top-level `response` field.
	ShapeLegacyDirectText
)

func (s UpstreamShape) String() string {
	switch s {
	case ShapeOpenAICompatible:
		return "openai_compatible"
	case ShapeStructuredOutputArray:
		return "structured_output_array"
	case ShapeLegacyDirectText:
		return "legacy_direct_text"
	default:
		return "unrecognized"
	}
}

// CanonicalResponse is the shape-agnostic intermediate representation that
// every upstream extractor produces and every envelope builder consumes.
type CanonicalResponse struct {
	// Text is the visible answer. After sanitization it is never empty.
	Text string
	// ReasoningText holds separate "thinking" output. Empty means absent.
	ReasoningText string
	// ToolCalls is nil when no tool invocation occurred.
	ToolCalls   []ToolCallRequest
	Usage       UsageStats
	ContentType string
}

// HasToolCalls reports whether the response carries at least one tool call.
func (r CanonicalResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ToolCallRequest is a single tool invocation requested by the model.
type ToolCallRequest struct {
	// ID is optional on input; builders assign one when empty.
	ID   string
	Name string
	// Arguments is either a plain string or a raw JSON value
	// (json.RawMessage holding an object or array).
	Arguments any
}

// UsageStats holds token accounting for one response.
type UsageStats struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	// ReasoningTokens is the share of CompletionTokens spent on reasoning.
	// Zero unless the model bills reasoning.
	ReasoningTokens int
}
