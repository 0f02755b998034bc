package types

// ResponsesResponse is the structured ("response" object) envelope.
type ResponsesResponse struct {
	ID                 string                `json:"id"`
	Object             string                `json:"object"`
	CreatedAt          int64                 `json:"created_at"`
	Status             string                `json:"status"`
	Error              any                   `json:"error"`
	IncompleteDetails  any                   `json:"incomplete_details"`
	Instructions       any                   `json:"instructions"`
	MaxOutputTokens    *int                  `json:"max_output_tokens"`
	Model              string                `json:"model"`
	Output             []ResponsesOutputItem `json:"output"`
	ParallelToolCalls  bool                  `json:"parallel_tool_calls"`
	PreviousResponseID any                   `json:"previous_response_id"`
	Reasoning          ResponsesReasoning    `json:"reasoning"`
	Store              bool                  `json:"store"`
	Temperature        float64               `json:"temperature"`
	Text               ResponsesText         `json:"text"`
	ToolChoice         any                   `json:"tool_choice"`
	Tools              []any                 `json:"tools"`
	TopP               float64               `json:"top_p"`
	Truncation         string                `json:"truncation"`
	Usage              ResponsesUsage        `json:"usage"`
	User               any                   `json:"user"`
	Metadata           map[string]any        `json:"metadata"`
}

// ResponsesOutputItem is a flat discriminated union over output item kinds:
// "message", "function_call" and "reasoning".
type ResponsesOutputItem struct {
	ID        string             `json:"id"`
	Type      string             `json:"type"`
	Status    string             `json:"status,omitempty"`
	Role      string             `json:"role,omitempty"`
	Content   []ResponsesContent `json:"content,omitempty"`
	Summary   []ResponsesContent `json:"summary,omitempty"`
	CallID    string             `json:"call_id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Arguments string             `json:"arguments,omitempty"`
}

// ResponsesContent is one content part of an output item.
type ResponsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponsesReasoning is always present on the structured envelope.
type ResponsesReasoning struct {
	Effort  *string `json:"effort"`
	Summary *string `json:"summary"`
}

// ResponsesText describes the text output format.
type ResponsesText struct {
	Format ResponsesTextFormat `json:"format"`
}

// ResponsesTextFormat is the output text format descriptor.
type ResponsesTextFormat struct {
	Type string `json:"type"`
}

// ResponsesUsage is the usage block of the structured envelope.
type ResponsesUsage struct {
	InputTokens         int                 `json:"input_tokens"`
	InputTokensDetails  InputTokensDetails  `json:"input_tokens_details"`
	OutputTokens        int                 `json:"output_tokens"`
	OutputTokensDetails OutputTokensDetails `json:"output_tokens_details"`
	TotalTokens         int                 `json:"total_tokens"`
}

// InputTokensDetails breaks down input tokens.
type InputTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

// OutputTokensDetails breaks down output tokens.
type OutputTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}
