package stream

import "regexp"

var toolCallJSONPattern = regexp.MustCompile(`^\s*\{\s*"type"\s*:\s*"function"`)

// LooksLikeToolCallJSON reports whether s looks like a stringified tool-call
// object such as {"type":"function","name":...}.
//
// This is a heuristic prefix match, not a protocol guarantee. Callers only
// use it to suppress content when the same frame also carries structured
// tool-call data, so ordinary text is never dropped on its own.
func LooksLikeToolCallJSON(s string) bool {
	return toolCallJSONPattern.MatchString(s)
}
