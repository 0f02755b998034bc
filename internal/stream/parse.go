package stream

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-aiforwarder/internal/normalize"
	"github.com/n0madic/go-aiforwarder/internal/types"
)

// ErrMalformedFrame is returned by ParseFrame for payloads that are not JSON.
var ErrMalformedFrame = errors.New("malformed frame")

// ToolFragment is one partial tool call carried by a frame. Index is the
// provider's slot identifier; fragments with the same index belong to the
// same call.
type ToolFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// FrameDelta is what a single upstream frame contributes to the stream.
type FrameDelta struct {
	Shape     types.UpstreamShape
	Content   string
	Reasoning string
	ToolCalls []ToolFragment
	// Finished marks end of turn.
	Finished     bool
	FinishReason string
	// Usage is set when the frame reported token usage.
	Usage *types.UsageStats
	// Suppressed is set when content was dropped because it duplicated
	// structured tool-call data in the same frame.
	Suppressed bool
}

// ParseFrame classifies one frame payload and extracts its delta. Only the
// two streaming shapes carry data; anything else yields an empty delta with
// its detected shape. Invalid JSON returns ErrMalformedFrame.
func ParseFrame(payload []byte) (FrameDelta, error) {
	if !gjson.ValidBytes(payload) {
		return FrameDelta{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(payload))
	}
	root := gjson.ParseBytes(payload)

	d := FrameDelta{Shape: normalize.Classify(root)}
	switch d.Shape {
	case types.ShapeOpenAICompatible:
		parseChatDelta(root, &d)
	case types.ShapeLegacyDirectText:
		parseLegacyDelta(root, &d)
	case types.ShapeStructuredOutputArray, types.ShapeUnrecognized:
	}

	if fr := root.Get("finish_reason"); fr.Type == gjson.String && fr.String() != "" {
		d.Finished = true
		d.FinishReason = fr.String()
	}
	if u, ok := normalize.ReportedUsage(root.Get("usage")); ok {
		d.Usage = &u
	}

	if len(d.ToolCalls) > 0 && LooksLikeToolCallJSON(d.Content) {
		d.Content = ""
		d.Suppressed = true
	}
	return d, nil
}

func parseChatDelta(root gjson.Result, d *FrameDelta) {
	choice := root.Get("choices.0")
	if !choice.IsObject() {
		return
	}
	delta := choice.Get("delta")
	if !delta.IsObject() {
		delta = choice.Get("message")
	}
	if delta.IsObject() {
		if c := delta.Get("content"); c.Type == gjson.String {
			d.Content = c.String()
		}
		d.Reasoning = normalize.FirstString(delta, normalize.ReasoningKeys...)
		d.ToolCalls = parseToolFragments(delta.Get("tool_calls"))
	}
	if fr := choice.Get("finish_reason"); fr.Type == gjson.String && fr.String() != "" {
		d.Finished = true
		d.FinishReason = fr.String()
	}
}

func parseLegacyDelta(root gjson.Result, d *FrameDelta) {
	resp := root.Get("response")
	if resp.Type == gjson.Null {
		d.Finished = true
	} else {
		d.Content = normalize.CoerceText(resp)
	}
	d.Reasoning = normalize.FirstString(root, normalize.ReasoningKeys...)
	d.ToolCalls = parseToolFragments(root.Get("tool_calls"))
}

// parseToolFragments reads streamed tool-call entries. Entries without an
// explicit index use their array position.
func parseToolFragments(arr gjson.Result) []ToolFragment {
	if !arr.IsArray() {
		return nil
	}
	var out []ToolFragment
	pos := 0
	arr.ForEach(func(_, tc gjson.Result) bool {
		defer func() { pos++ }()
		if !tc.IsObject() {
			return true
		}
		fn := tc.Get("function")
		if !fn.IsObject() {
			fn = tc
		}
		frag := ToolFragment{
			Index: pos,
			ID:    tc.Get("id").String(),
			Name:  fn.Get("name").String(),
		}
		if idx := tc.Get("index"); idx.Type == gjson.Number {
			frag.Index = int(idx.Int())
		}
		switch args := fn.Get("arguments"); {
		case args.Type == gjson.String:
			frag.Arguments = args.String()
		case args.IsObject() || args.IsArray():
			frag.Arguments = args.Raw
		}
		out = append(out, frag)
		return true
	})
	return out
}
