// Package normalize turns raw upstream response payloads into a sanitized
// types.CanonicalResponse.
//
// The upstream provider answers in one of three structurally different
// shapes depending on the model family. DetectShape classifies a payload
// once, Extract dispatches to the matching extractor, and Sanitize is the
// single gate every response passes before an envelope is built.
package normalize

import (
	"github.com/tidwall/gjson"

	"github.com/n0madic/go-aiforwarder/internal/types"
)

// DetectShape classifies a raw upstream JSON payload. It never fails:
// invalid JSON and non-object payloads are reported as ShapeUnrecognized.
func DetectShape(raw []byte) types.UpstreamShape {
	if !gjson.ValidBytes(raw) {
		return types.ShapeUnrecognized
	}
	return Classify(gjson.ParseBytes(raw))
}

// Classify applies the detection rules to an already parsed payload, in
// priority order: `choices` wins over `output`, which wins over `response`.
func Classify(root gjson.Result) types.UpstreamShape {
	if !root.IsObject() {
		return types.ShapeUnrecognized
	}
	if root.Get("choices").IsArray() {
		return types.ShapeOpenAICompatible
	}
	if root.Get("output").IsArray() {
		return types.ShapeStructuredOutputArray
	}
	// Exists is true for an explicit null as well.
	if root.Get("response").Exists() {
		return types.ShapeLegacyDirectText
	}
	return types.ShapeUnrecognized
}
