package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-aiforwarder/internal/types"
)

// ReasoningKeys lists the fields a message or delta may carry reasoning text in.
var ReasoningKeys = []string{"reasoning_content", "reasoning", "reasoningText"}

// ExtractContext carries the per-request facts extractors need for usage
// estimation.
type ExtractContext struct {
	Model            string
	ReasoningCapable bool
	// PromptChars is the size of instructions plus input, in characters.
	// Zero means unknown.
	PromptChars int
}

// Extract classifies raw and converts it into a CanonicalResponse. The
// result is not sanitized; callers must pass it through Sanitize.
func Extract(raw []byte, ctx ExtractContext) (types.CanonicalResponse, types.UpstreamShape) {
	shape := DetectShape(raw)

	var resp types.CanonicalResponse
	switch shape {
	case types.ShapeOpenAICompatible:
		resp = extractOpenAICompatible(gjson.ParseBytes(raw), ctx)
	case types.ShapeStructuredOutputArray:
		resp = extractStructuredOutput(gjson.ParseBytes(raw), ctx)
	case types.ShapeLegacyDirectText:
		resp = extractLegacyDirectText(gjson.ParseBytes(raw), ctx)
	case types.ShapeUnrecognized:
		resp = types.CanonicalResponse{ContentType: types.ContentTypeJSON}
	}
	return resp, shape
}

func extractOpenAICompatible(root gjson.Result, ctx ExtractContext) types.CanonicalResponse {
	out := types.CanonicalResponse{ContentType: types.ContentTypeJSON}

	message := root.Get("choices.0.message")
	if !message.IsObject() {
		return out
	}

	out.ReasoningText = FirstString(message, ReasoningKeys...)
	out.Text = ContentText(message.Get("content"))

	// Tool-call responses keep an empty text; the chat builder reports
	// null content for them instead of a space.
	if calls := ParseToolCalls(message.Get("tool_calls")); len(calls) > 0 {
		out.ToolCalls = calls
		if strings.TrimSpace(out.Text) == "" {
			out.Text = ""
		}
	}

	out.Usage = ResolveUsage(root.Get("usage"), out.Text, out.ReasoningText, ctx)
	return out
}

func extractStructuredOutput(root gjson.Result, ctx ExtractContext) types.CanonicalResponse {
	out := types.CanonicalResponse{ContentType: types.ContentTypeJSON}
	output := root.Get("output")

	var text strings.Builder
	output.ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() == "message" {
			text.WriteString(ContentText(item.Get("content")))
		}
		return true
	})
	out.Text = text.String()

	if out.Text == "" {
		output.ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() != "reasoning" {
				return true
			}
			t := ContentText(item.Get("content"))
			if t == "" {
				t = ContentText(item.Get("summary"))
			}
			if t == "" {
				return true
			}
			out.Text = t
			return false
		})
	}

	out.Usage = ResolveUsage(root.Get("usage"), out.Text, "", ctx)
	return out
}

func extractLegacyDirectText(root gjson.Result, ctx ExtractContext) types.CanonicalResponse {
	out := types.CanonicalResponse{ContentType: types.ContentTypeJSON}

	out.ToolCalls = ParseToolCalls(root.Get("tool_calls"))
	out.Text = CoerceText(root.Get("response"))
	out.ReasoningText = FirstString(root, ReasoningKeys...)

	out.Usage = ResolveUsage(root.Get("usage"), out.Text, out.ReasoningText, ctx)
	return out
}

// ParseToolCalls reads a tool-call array. Both the nested
// {id, function:{name, arguments}} form and the flat {name, arguments} form
// are accepted. A missing, non-array or zero-length value yields nil.
func ParseToolCalls(arr gjson.Result) []types.ToolCallRequest {
	if !arr.IsArray() {
		return nil
	}
	var calls []types.ToolCallRequest
	arr.ForEach(func(_, tc gjson.Result) bool {
		if !tc.IsObject() {
			return true
		}
		fn := tc.Get("function")
		if !fn.IsObject() {
			fn = tc
		}
		calls = append(calls, types.ToolCallRequest{
			ID:        tc.Get("id").String(),
			Name:      fn.Get("name").String(),
			Arguments: ParseArguments(fn.Get("arguments")),
		})
		return true
	})
	if len(calls) == 0 {
		return nil
	}
	return calls
}

// ParseArguments converts a tool-call argument payload into either a raw JSON
// value (json.RawMessage) or, when the payload is a string that is not a JSON
// object or array, the string itself.
func ParseArguments(v gjson.Result) any {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return json.RawMessage("{}")
	case v.Type == gjson.String:
		s := strings.TrimSpace(v.String())
		if (strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) && gjson.Valid(s) {
			return json.RawMessage(s)
		}
		return v.String()
	case v.IsObject() || v.IsArray():
		return json.RawMessage(v.Raw)
	default:
		return v.Raw
	}
}

// FirstString returns the first string-typed field among keys.
func FirstString(obj gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := obj.Get(k); v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

// ContentText reads a content value that is either a plain string or an
// array of parts carrying `text` fields.
func ContentText(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		var sb strings.Builder
		v.ForEach(func(_, part gjson.Result) bool {
			if t := part.Get("text"); t.Type == gjson.String {
				sb.WriteString(t.String())
			}
			return true
		})
		return sb.String()
	}
	return ""
}

// CoerceText converts the legacy `response` value to text. Null or absent
// values become empty text, numbers keep their shortest decimal form.
func CoerceText(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.String()
	case gjson.Number:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	default:
		return v.Raw
	}
}
