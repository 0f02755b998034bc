package pipeline

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/n0madic/go-aiforwarder/internal/normalize"
)

// UpstreamBody rewrites a client request body for the upstream run endpoint.
// The model travels in the URL, so it is removed from the body; stream is
// always set explicitly. Tool definitions are dropped for models that do not
// accept them.
func UpstreamBody(body []byte, stream, toolsSupported bool) ([]byte, error) {
	out, err := sjson.DeleteBytes(body, "model")
	if err != nil {
		return nil, fmt.Errorf("rewrite request: %w", err)
	}
	if out, err = sjson.SetBytes(out, "stream", stream); err != nil {
		return nil, fmt.Errorf("rewrite request: %w", err)
	}
	if toolsSupported {
		return out, nil
	}
	for _, key := range []string{"tools", "tool_choice", "parallel_tool_calls"} {
		if !gjson.GetBytes(out, key).Exists() {
			continue
		}
		if out, err = sjson.DeleteBytes(out, key); err != nil {
			return nil, fmt.Errorf("rewrite request: %w", err)
		}
	}
	return out, nil
}

// PromptChars measures the prompt text in a chat or responses request. It
// feeds the usage estimate when the upstream reports none.
func PromptChars(body []byte) int {
	root := gjson.ParseBytes(body)
	n := 0
	for _, msg := range root.Get("messages").Array() {
		n += normalize.CharCount(normalize.ContentText(msg.Get("content")))
	}
	n += normalize.CharCount(root.Get("instructions").String())

	input := root.Get("input")
	switch {
	case input.Type == gjson.String:
		n += normalize.CharCount(input.String())
	case input.IsArray():
		for _, item := range input.Array() {
			if item.Type == gjson.String {
				n += normalize.CharCount(item.String())
				continue
			}
			n += normalize.CharCount(normalize.ContentText(item.Get("content")))
		}
	}
	return n
}

func summarizeToolChoice(choice gjson.Result) string {
	switch {
	case !choice.Exists() || choice.Type == gjson.Null:
		return "auto"
	case choice.Type == gjson.String:
		val := strings.TrimSpace(choice.String())
		if val == "" {
			return "auto"
		}
		return val
	case choice.IsObject():
		kind := choice.Get("type").String()
		name := choice.Get("function.name").String()
		if name == "" {
			name = choice.Get("name").String()
		}
		if name != "" {
			if kind != "" {
				return kind + ":" + name
			}
			return "function:" + name
		}
		if kind != "" {
			return kind
		}
		return "object"
	default:
		return "auto"
	}
}
