package codec

import (
	"strings"
	"time"

	"github.com/n0madic/go-aiforwarder/internal/normalize"
	"github.com/n0madic/go-aiforwarder/internal/types"
)

// ResponseMeta identifies one structured response. The streaming path
// creates it at stream start and reuses it for every event.
type ResponseMeta struct {
	ID        string
	CreatedAt int64
	Model     string
}

// NewResponseMeta allocates a fresh response identity for model.
func NewResponseMeta(model string) ResponseMeta {
	return ResponseMeta{ID: NewResponseID(), CreatedAt: time.Now().Unix(), Model: model}
}

// BuildResponses converts a canonical response into the structured
// ("response" object) envelope.
func BuildResponses(resp types.CanonicalResponse, model string, echo *EchoParams) *types.ResponsesResponse {
	resp = normalize.Sanitize(resp)

	var output []types.ResponsesOutputItem
	if strings.TrimSpace(resp.Text) != "" {
		output = append(output, MessageItem(NewMessageID(), resp.Text, "completed"))
	}
	for _, tc := range resp.ToolCalls {
		output = append(output, FunctionCallItem(NewFunctionItemID(), CallIDOr(tc.ID), tc.Name, SerializeToolArgs(tc.Arguments), "completed"))
	}
	return AssembleResponse(NewResponseMeta(model), "completed", output, resp.ReasoningText, resp.Usage, echo)
}

// AssembleResponse builds the envelope shared by the non-streaming builder
// and the streaming response.created / response.completed events. An empty
// output gets a single-space message item unless status is "in_progress".
func AssembleResponse(meta ResponseMeta, status string, output []types.ResponsesOutputItem, reasoning string, usage types.UsageStats, echo *EchoParams) *types.ResponsesResponse {
	if len(output) == 0 && status != "in_progress" {
		output = []types.ResponsesOutputItem{MessageItem(NewMessageID(), normalize.EmptyText, "completed")}
	}
	if output == nil {
		output = []types.ResponsesOutputItem{}
	}

	e := echo.resolve()
	var summary *string
	if strings.TrimSpace(reasoning) != "" {
		summary = types.StringPtr(reasoning)
	}

	return &types.ResponsesResponse{
		ID:                 meta.ID,
		Object:             "response",
		CreatedAt:          meta.CreatedAt,
		Status:             status,
		Error:              nil,
		IncompleteDetails:  nil,
		Instructions:       e.instructions,
		MaxOutputTokens:    e.maxOutputTokens,
		Model:              meta.Model,
		Output:             output,
		ParallelToolCalls:  e.parallelToolCalls,
		PreviousResponseID: e.previousResponseID,
		Reasoning:          types.ResponsesReasoning{Effort: nil, Summary: summary},
		Store:              e.store,
		Temperature:        e.temperature,
		Text:               types.ResponsesText{Format: types.ResponsesTextFormat{Type: "text"}},
		ToolChoice:         e.toolChoice,
		Tools:              e.tools,
		TopP:               e.topP,
		Truncation:         e.truncation,
		Usage:              ResponsesUsage(usage),
		User:               e.user,
		Metadata:           e.metadata,
	}
}

// ResponsesUsage reshapes canonical usage into the structured usage block.
func ResponsesUsage(u types.UsageStats) types.ResponsesUsage {
	return types.ResponsesUsage{
		InputTokens:         u.PromptTokens,
		InputTokensDetails:  types.InputTokensDetails{CachedTokens: 0},
		OutputTokens:        u.CompletionTokens,
		OutputTokensDetails: types.OutputTokensDetails{ReasoningTokens: u.ReasoningTokens},
		TotalTokens:         u.PromptTokens + u.CompletionTokens,
	}
}

// MessageItem builds an assistant message output item with one output_text part.
func MessageItem(id, text, status string) types.ResponsesOutputItem {
	item := types.ResponsesOutputItem{ID: id, Type: "message", Status: status, Role: "assistant"}
	item.Content = []types.ResponsesContent{{Type: "output_text", Text: text}}
	return item
}

// FunctionCallItem builds a function_call output item.
func FunctionCallItem(id, callID, name, arguments, status string) types.ResponsesOutputItem {
	return types.ResponsesOutputItem{
		ID:        id,
		Type:      "function_call",
		Status:    status,
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
	}
}

// ReasoningItem builds a reasoning output item carrying text as its summary.
func ReasoningItem(id, text string) types.ResponsesOutputItem {
	return types.ResponsesOutputItem{
		ID:      id,
		Type:    "reasoning",
		Summary: []types.ResponsesContent{{Type: "summary_text", Text: text}},
	}
}
