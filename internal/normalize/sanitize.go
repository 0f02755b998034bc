package normalize

import (
	"encoding/json"
	"strings"

	"github.com/n0madic/go-aiforwarder/internal/types"
)

// EmptyText is the minimum text a sanitized response carries.
const EmptyText = " "

// Sanitize guarantees the CanonicalResponse invariants and is idempotent:
//   - Text is never empty; blank text becomes a single space.
//   - ToolCalls is either nil or a non-empty list of named calls with
//     non-nil arguments.
//   - Usage is non-negative and Total == Prompt + Completion.
//   - ContentType is "json".
func Sanitize(r types.CanonicalResponse) types.CanonicalResponse {
	out := r

	if strings.TrimSpace(out.Text) == "" {
		out.Text = EmptyText
	}
	if strings.TrimSpace(out.ReasoningText) == "" {
		out.ReasoningText = ""
	}
	out.ToolCalls = sanitizeToolCalls(r.ToolCalls)
	out.Usage = sanitizeUsage(r.Usage)
	out.ContentType = types.ContentTypeJSON
	return out
}

func sanitizeToolCalls(calls []types.ToolCallRequest) []types.ToolCallRequest {
	if len(calls) == 0 {
		return nil
	}
	out := make([]types.ToolCallRequest, 0, len(calls))
	for _, tc := range calls {
		name := strings.TrimSpace(tc.Name)
		if name == "" {
			continue
		}
		tc.Name = name
		tc.ID = strings.TrimSpace(tc.ID)
		tc.Arguments = sanitizeArguments(tc.Arguments)
		out = append(out, tc)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sanitizeArguments(args any) any {
	switch a := args.(type) {
	case nil:
		return json.RawMessage("{}")
	case string:
		if strings.TrimSpace(a) == "" {
			return json.RawMessage("{}")
		}
	case json.RawMessage:
		if len(strings.TrimSpace(string(a))) == 0 {
			return json.RawMessage("{}")
		}
	}
	return args
}

func sanitizeUsage(u types.UsageStats) types.UsageStats {
	if u.PromptTokens < 0 {
		u.PromptTokens = 0
	}
	if u.CompletionTokens < 0 {
		u.CompletionTokens = 0
	}
	u.ReasoningTokens = min(max(u.ReasoningTokens, 0), u.CompletionTokens)
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}
