package codec

import (
	"encoding/json"
	"strings"
)

// SerializeToolArgs converts tool-call arguments to the JSON string form both
// envelopes carry. Strings pass through untouched so streamed fragments and
// the assembled value stay byte-identical.
func SerializeToolArgs(args any) string {
	switch a := args.(type) {
	case nil:
		return "{}"
	case string:
		if strings.TrimSpace(a) == "" {
			return "{}"
		}
		return a
	case json.RawMessage:
		if len(strings.TrimSpace(string(a))) == 0 {
			return "{}"
		}
		return string(a)
	default:
		b, err := json.Marshal(a)
		if err != nil {
			return "{}"
		}
		return string(b)
	}
}
