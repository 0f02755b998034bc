package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0madic/go-aiforwarder/internal/types"
)

func TestDetectShape(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want types.UpstreamShape
	}{
		{"choices array", `{"choices":[]}`, types.ShapeOpenAICompatible},
		{"choices wins over output", `{"choices":[{}],"output":[],"response":"x"}`, types.ShapeOpenAICompatible},
		{"output array", `{"output":[{"type":"message"}]}`, types.ShapeStructuredOutputArray},
		{"output wins over response", `{"output":[],"response":"x"}`, types.ShapeStructuredOutputArray},
		{"response string", `{"response":"hi"}`, types.ShapeLegacyDirectText},
		{"response null", `{"response":null}`, types.ShapeLegacyDirectText},
		{"response number", `{"response":4}`, types.ShapeLegacyDirectText},
		{"choices not array", `{"choices":{"a":1}}`, types.ShapeUnrecognized},
		{"output not array", `{"output":"text"}`, types.ShapeUnrecognized},
		{"empty object", `{}`, types.ShapeUnrecognized},
		{"top-level array", `[1,2]`, types.ShapeUnrecognized},
		{"invalid json", `{"choices":[`, types.ShapeUnrecognized},
		{"empty input", ``, types.ShapeUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectShape([]byte(tt.raw)))
		})
	}
}

func TestExtractOpenAICompatiblePlainText(t *testing.T) {
	resp, shape := Extract([]byte(`{"choices":[{"message":{"content":"4"}}]}`), ExtractContext{})
	assert.Equal(t, types.ShapeOpenAICompatible, shape)
	assert.Equal(t, "4", resp.Text)
	assert.Nil(t, resp.ToolCalls)
	assert.Equal(t, MinPromptTokens, resp.Usage.PromptTokens)
	assert.Equal(t, 1, resp.Usage.CompletionTokens)
}

func TestExtractOpenAICompatibleToolCallOnly(t *testing.T) {
	raw := `{"choices":[{"message":{"tool_calls":[{"function":{"name":"get_weather","arguments":"{\"location\":\"Tokyo\"}"}}]}}]}`
	resp, _ := Extract([]byte(raw), ExtractContext{})

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "", resp.Text)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, json.RawMessage(`{"location":"Tokyo"}`), resp.ToolCalls[0].Arguments)
}

func TestExtractOpenAICompatibleBlankContentWithToolCalls(t *testing.T) {
	raw := `{"choices":[{"message":{"content":"  ","tool_calls":[{"id":"call_x","function":{"name":"f","arguments":{"a":1}}}]}}]}`
	resp, _ := Extract([]byte(raw), ExtractContext{})

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "", resp.Text)
	assert.Equal(t, "call_x", resp.ToolCalls[0].ID)
	assert.Equal(t, json.RawMessage(`{"a":1}`), resp.ToolCalls[0].Arguments)
}

func TestExtractOpenAICompatibleMissingMessage(t *testing.T) {
	for _, raw := range []string{`{"choices":[]}`, `{"choices":[{"index":0}]}`} {
		resp, shape := Extract([]byte(raw), ExtractContext{})
		assert.Equal(t, types.ShapeOpenAICompatible, shape)
		assert.Equal(t, "", resp.Text)
		assert.Equal(t, types.UsageStats{}, resp.Usage)
	}
}

func TestExtractOpenAICompatibleReasoningFields(t *testing.T) {
	for _, key := range ReasoningKeys {
		t.Run(key, func(t *testing.T) {
			raw := `{"choices":[{"message":{"content":"ok","` + key + `":"thinking"}}]}`
			resp, _ := Extract([]byte(raw), ExtractContext{ReasoningCapable: true})
			assert.Equal(t, "thinking", resp.ReasoningText)
		})
	}
}

func TestExtractContentParts(t *testing.T) {
	raw := `{"choices":[{"message":{"content":[{"type":"text","text":"Hel"},{"type":"text","text":"lo"}]}}]}`
	resp, _ := Extract([]byte(raw), ExtractContext{})
	assert.Equal(t, "Hello", resp.Text)
}

func TestExtractUsageReasoningPolicy(t *testing.T) {
	// 8 visible chars, 12 reasoning chars.
	raw := []byte(`{"choices":[{"message":{"content":"abcdefgh","reasoning_content":"rrrrrrrrrrrr"}}]}`)

	reasoning, _ := Extract(raw, ExtractContext{ReasoningCapable: true, PromptChars: 40})
	assert.Equal(t, 10, reasoning.Usage.PromptTokens)
	assert.Equal(t, 5, reasoning.Usage.CompletionTokens)
	assert.Equal(t, 15, reasoning.Usage.TotalTokens)
	assert.Equal(t, 3, reasoning.Usage.ReasoningTokens)

	plain, _ := Extract(raw, ExtractContext{ReasoningCapable: false, PromptChars: 40})
	assert.Equal(t, 2, plain.Usage.CompletionTokens)
	assert.Equal(t, 12, plain.Usage.TotalTokens)
	assert.Equal(t, 0, plain.Usage.ReasoningTokens)
}

func TestExtractReportedUsage(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"content":"abcd","reasoning_content":"hidden text"}}],
		"usage":{"prompt_tokens":7,"completion_tokens":30,"total_tokens":999}}`)

	capable, _ := Extract(raw, ExtractContext{ReasoningCapable: true})
	assert.Equal(t, types.UsageStats{PromptTokens: 7, CompletionTokens: 30, TotalTokens: 37, ReasoningTokens: 3}, capable.Usage)

	// Reasoning is not billed to non-reasoning clients even when reported.
	plain, _ := Extract(raw, ExtractContext{})
	assert.Equal(t, types.UsageStats{PromptTokens: 7, CompletionTokens: 1, TotalTokens: 8}, plain.Usage)

	alt, _ := Extract([]byte(`{"response":"x","usage":{"input_tokens":3,"output_tokens":4}}`), ExtractContext{})
	assert.Equal(t, types.UsageStats{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}, alt.Usage)
}

func TestExtractStructuredOutput(t *testing.T) {
	raw := `{"output":[
		{"type":"reasoning","content":[{"type":"reasoning_text","text":"think"}]},
		{"type":"message","content":[{"type":"output_text","text":"Hello, "},{"type":"output_text","text":"world"}]},
		{"type":"message","content":[{"type":"output_text","text":"!"}]}
	]}`
	resp, shape := Extract([]byte(raw), ExtractContext{})
	assert.Equal(t, types.ShapeStructuredOutputArray, shape)
	assert.Equal(t, "Hello, world!", resp.Text)
	assert.Nil(t, resp.ToolCalls)
}

func TestExtractStructuredOutputReasoningFallback(t *testing.T) {
	raw := `{"output":[
		{"type":"reasoning","content":[]},
		{"type":"reasoning","content":[{"text":"first"}]},
		{"type":"reasoning","content":[{"text":"second"}]}
	]}`
	resp, _ := Extract([]byte(raw), ExtractContext{})
	assert.Equal(t, "first", resp.Text)
}

func TestExtractLegacyDirectText(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantText  string
		wantCalls int
	}{
		{"string", `{"response":"hello"}`, "hello", 0},
		{"null", `{"response":null}`, "", 0},
		{"integer", `{"response":42}`, "42", 0},
		{"float", `{"response":4.5}`, "4.5", 0},
		{"bool", `{"response":true}`, "true", 0},
		{"null with tool calls", `{"response":null,"tool_calls":[{"name":"f","arguments":{"q":"x"}}]}`, "", 1},
		{"empty tool calls", `{"response":"x","tool_calls":[]}`, "x", 0},
		{"tool calls not array", `{"response":"x","tool_calls":{"name":"f"}}`, "x", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, shape := Extract([]byte(tt.raw), ExtractContext{})
			assert.Equal(t, types.ShapeLegacyDirectText, shape)
			assert.Equal(t, tt.wantText, resp.Text)
			assert.Len(t, resp.ToolCalls, tt.wantCalls)
			if tt.wantCalls == 0 {
				assert.Nil(t, resp.ToolCalls)
			}
		})
	}
}

func TestExtractUnrecognized(t *testing.T) {
	resp, shape := Extract([]byte(`{"result":{"text":"x"}}`), ExtractContext{PromptChars: 100})
	assert.Equal(t, types.ShapeUnrecognized, shape)
	assert.Equal(t, "", resp.Text)
	assert.Equal(t, types.UsageStats{}, resp.Usage)
	assert.Equal(t, types.ContentTypeJSON, resp.ContentType)
}

func TestExtractThenSanitizeNeverEmpty(t *testing.T) {
	inputs := []string{
		`{"choices":[{"message":{"content":"4"}}]}`,
		`{"choices":[{"message":{"content":""}}]}`,
		`{"choices":[{"message":{"content":null}}]}`,
		`{"choices":[]}`,
		`{"choices":[{"message":{"tool_calls":[{"function":{"name":"f","arguments":"{}"}}]}}]}`,
		`{"output":[]}`,
		`{"output":[{"type":"message","content":[{"text":"   "}]}]}`,
		`{"response":null}`,
		`{"response":""}`,
		`{"response":"\n\t"}`,
		`{"response":null,"tool_calls":[{"name":"f"}]}`,
		`{}`,
		`not json`,
	}
	for _, raw := range inputs {
		resp, _ := Extract([]byte(raw), ExtractContext{})
		clean := Sanitize(resp)
		assert.NotEmpty(t, clean.Text, raw)
		assert.Equal(t, clean.Usage.PromptTokens+clean.Usage.CompletionTokens, clean.Usage.TotalTokens, raw)
		assert.GreaterOrEqual(t, clean.Usage.PromptTokens, 0, raw)
		assert.GreaterOrEqual(t, clean.Usage.CompletionTokens, 0, raw)
	}
}

func TestLegacyNullResponseSanitizesToSpace(t *testing.T) {
	resp, _ := Extract([]byte(`{"response":null}`), ExtractContext{})
	assert.Equal(t, EmptyText, Sanitize(resp).Text)
}

func TestSanitizeToolCalls(t *testing.T) {
	in := types.CanonicalResponse{
		Text: "",
		ToolCalls: []types.ToolCallRequest{
			{Name: " lookup ", Arguments: nil},
			{Name: "", Arguments: "{}"},
			{Name: "search", Arguments: "  "},
			{Name: "raw", Arguments: `{"x":1}`},
		},
		Usage: types.UsageStats{PromptTokens: -3, CompletionTokens: 5, TotalTokens: 100},
	}
	out := Sanitize(in)

	require.Len(t, out.ToolCalls, 3)
	assert.Equal(t, "lookup", out.ToolCalls[0].Name)
	assert.Equal(t, json.RawMessage("{}"), out.ToolCalls[0].Arguments)
	assert.Equal(t, json.RawMessage("{}"), out.ToolCalls[1].Arguments)
	assert.Equal(t, `{"x":1}`, out.ToolCalls[2].Arguments)
	assert.Equal(t, types.UsageStats{PromptTokens: 0, CompletionTokens: 5, TotalTokens: 5}, out.Usage)
	assert.Equal(t, EmptyText, out.Text)

	// The input slice is not modified.
	assert.Equal(t, " lookup ", in.ToolCalls[0].Name)
}

func TestSanitizeDropsUnnamedToolCallList(t *testing.T) {
	out := Sanitize(types.CanonicalResponse{ToolCalls: []types.ToolCallRequest{{Arguments: "{}"}}})
	assert.Nil(t, out.ToolCalls)

	out = Sanitize(types.CanonicalResponse{ToolCalls: []types.ToolCallRequest{}})
	assert.Nil(t, out.ToolCalls)
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []types.CanonicalResponse{
		{},
		{Text: "hello", ReasoningText: "  "},
		{Text: " ", ToolCalls: []types.ToolCallRequest{{Name: "f"}}},
		{Text: "x", ToolCalls: []types.ToolCallRequest{{Name: " g ", ID: " id ", Arguments: json.RawMessage(`[1]`)}}},
		{Usage: types.UsageStats{PromptTokens: -1, CompletionTokens: -1, TotalTokens: -2}},
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)

		a, err := json.Marshal(once)
		require.NoError(t, err)
		b, err := json.Marshal(twice)
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b))
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(0))
	assert.Equal(t, 0, EstimateTokens(-5))
	assert.Equal(t, 1, EstimateTokens(1))
	assert.Equal(t, 1, EstimateTokens(4))
	assert.Equal(t, 2, EstimateTokens(5))
	assert.Equal(t, MinPromptTokens, EstimatePromptTokens(0))
	assert.Equal(t, 3, EstimatePromptTokens(9))
	assert.Equal(t, 2, CharCount("日本"))
}
