package normalize

import (
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-aiforwarder/internal/types"
)

const (
	// CharsPerToken is the rough characters-per-token ratio used when the
	// upstream does not report usage.
	CharsPerToken = 4
	// MinPromptTokens is reported when the request size is unknown.
	MinPromptTokens = 10
)

// EstimateTokens converts a character count into a token estimate, rounding up.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// EstimatePromptTokens estimates prompt tokens from the request size.
func EstimatePromptTokens(promptChars int) int {
	if promptChars <= 0 {
		return MinPromptTokens
	}
	return EstimateTokens(promptChars)
}

// CharCount counts characters as Unicode code points.
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}

// EstimateUsage builds usage from accumulated text when the upstream did not
// report any. Reasoning characters are billed only to reasoning-capable models.
func EstimateUsage(text, reasoning string, ctx ExtractContext) types.UsageStats {
	completionChars := CharCount(text)
	if ctx.ReasoningCapable {
		completionChars += CharCount(reasoning)
	}
	u := types.UsageStats{
		PromptTokens:     EstimatePromptTokens(ctx.PromptChars),
		CompletionTokens: EstimateTokens(completionChars),
	}
	u.ReasoningTokens = reasoningTokens(u.CompletionTokens, reasoning, ctx)
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// ResolveUsage prefers upstream-reported usage and falls back to estimation.
func ResolveUsage(usage gjson.Result, text, reasoning string, ctx ExtractContext) types.UsageStats {
	if u, ok := ReportedUsage(usage); ok {
		return UsageFor(&u, text, reasoning, ctx)
	}
	return UsageFor(nil, text, reasoning, ctx)
}

// UsageFor applies the usage policy to an optional reported usage. For models
// that are not reasoning-capable, completion tokens are always recomputed
// from visible text when reasoning text is present.
func UsageFor(reported *types.UsageStats, text, reasoning string, ctx ExtractContext) types.UsageStats {
	if reported == nil {
		return EstimateUsage(text, reasoning, ctx)
	}
	u := *reported
	if !ctx.ReasoningCapable && reasoning != "" {
		u.CompletionTokens = EstimateTokens(CharCount(text))
	}
	u.ReasoningTokens = reasoningTokens(u.CompletionTokens, reasoning, ctx)
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// reasoningTokens estimates the reasoning share of completion tokens. It is
// zero for models that do not bill reasoning and never exceeds completion.
func reasoningTokens(completion int, reasoning string, ctx ExtractContext) int {
	if !ctx.ReasoningCapable {
		return 0
	}
	return min(EstimateTokens(CharCount(reasoning)), completion)
}

// ReportedUsage reads a usage object in either the chat
// (prompt_tokens/completion_tokens) or structured (input_tokens/output_tokens)
// naming.
func ReportedUsage(usage gjson.Result) (types.UsageStats, bool) {
	if !usage.IsObject() {
		return types.UsageStats{}, false
	}
	prompt, okPrompt := firstInt(usage, "prompt_tokens", "input_tokens")
	completion, okCompletion := firstInt(usage, "completion_tokens", "output_tokens")
	if !okPrompt && !okCompletion {
		return types.UsageStats{}, false
	}
	return types.UsageStats{PromptTokens: prompt, CompletionTokens: completion}, true
}

func firstInt(obj gjson.Result, keys ...string) (int, bool) {
	for _, k := range keys {
		if v := obj.Get(k); v.Type == gjson.Number {
			return int(v.Int()), true
		}
	}
	return 0, false
}
