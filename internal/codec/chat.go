package codec

import (
	"time"

	"github.com/n0madic/go-aiforwarder/internal/models"
	"github.com/n0madic/go-aiforwarder/internal/normalize"
	"github.com/n0madic/go-aiforwarder/internal/types"
)

// BuildChat converts a canonical response into a chat completion envelope.
//
// Tool-call responses report content as null with finish_reason
// "tool_calls"; everything else carries the sanitized text and "stop".
// Reasoning is included only for reasoning-capable models.
func BuildChat(resp types.CanonicalResponse, model string, caps models.Capabilities) *types.ChatCompletionResponse {
	resp = normalize.Sanitize(resp)

	message := types.ChatResponseMsg{Role: "assistant"}
	finish := "stop"
	if resp.HasToolCalls() {
		message.ToolCalls = ChatToolCalls(resp.ToolCalls)
		finish = "tool_calls"
	} else {
		message.Content = types.StringPtr(resp.Text)
	}
	if resp.ReasoningText != "" && models.IsReasoningCapable(caps, model) {
		message.ReasoningContent = resp.ReasoningText
	}

	return &types.ChatCompletionResponse{
		ID:                NewChatID(),
		Object:            "chat.completion",
		Created:           time.Now().Unix(),
		Model:             model,
		SystemFingerprint: NewFingerprint(),
		Choices: []types.ChatChoice{
			{Index: 0, Message: message, Logprobs: nil, FinishReason: finish},
		},
		Usage: types.ChatUsage(resp.Usage),
	}
}

// ChatToolCalls maps canonical tool calls to chat wire tool calls, assigning
// ids where missing and encoding arguments as a JSON string.
func ChatToolCalls(calls []types.ToolCallRequest) []types.ToolCall {
	out := make([]types.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, types.ToolCall{
			ID:   CallIDOr(tc.ID),
			Type: "function",
			Function: types.FunctionCall{
				Name:      tc.Name,
				Arguments: SerializeToolArgs(tc.Arguments),
			},
		})
	}
	return out
}
