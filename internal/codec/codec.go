package codec

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Format identifies the target envelope a client asked for.
type Format int

const (
	FormatChatCompletions Format = iota
	FormatResponses
)

func (f Format) String() string {
	switch f {
	case FormatResponses:
		return "responses"
	default:
		return "chat_completions"
	}
}

// ParseFormat maps a user-facing format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "chat", "chat_completions", "chat.completions", "chat-completions":
		return FormatChatCompletions, nil
	case "responses", "response", "structured":
		return FormatResponses, nil
	}
	return FormatChatCompletions, fmt.Errorf("unknown format %q", s)
}

// EchoParams carries request-level parameters echoed back by the structured
// envelope. Nil or empty fields fall back to the protocol defaults.
type EchoParams struct {
	Temperature        *float64
	TopP               *float64
	ToolChoice         any
	Tools              []any
	Store              *bool
	Truncation         string
	MaxOutputTokens    *int
	ParallelToolCalls  *bool
	Instructions       string
	PreviousResponseID string
	User               string
	Metadata           map[string]any
}

// EchoFromRequest reads the echoed parameters from a Responses request body.
func EchoFromRequest(body []byte) *EchoParams {
	if !gjson.ValidBytes(body) {
		return nil
	}
	root := gjson.ParseBytes(body)
	e := &EchoParams{
		Truncation:         root.Get("truncation").String(),
		Instructions:       root.Get("instructions").String(),
		PreviousResponseID: root.Get("previous_response_id").String(),
		User:               root.Get("user").String(),
	}
	if v := root.Get("temperature"); v.Type == gjson.Number {
		f := v.Float()
		e.Temperature = &f
	}
	if v := root.Get("top_p"); v.Type == gjson.Number {
		f := v.Float()
		e.TopP = &f
	}
	if v := root.Get("max_output_tokens"); v.Type == gjson.Number {
		n := int(v.Int())
		e.MaxOutputTokens = &n
	}
	if v := root.Get("store"); v.IsBool() {
		b := v.Bool()
		e.Store = &b
	}
	if v := root.Get("parallel_tool_calls"); v.IsBool() {
		b := v.Bool()
		e.ParallelToolCalls = &b
	}
	if v := root.Get("tool_choice"); v.Exists() && v.Type != gjson.Null {
		e.ToolChoice = v.Value()
	}
	if v := root.Get("tools"); v.IsArray() {
		tools, _ := v.Value().([]any)
		e.Tools = tools
	}
	if v := root.Get("metadata"); v.IsObject() {
		md, _ := v.Value().(map[string]any)
		e.Metadata = md
	}
	return e
}

// resolvedEcho is EchoParams with every default applied.
type resolvedEcho struct {
	temperature        float64
	topP               float64
	toolChoice         any
	tools              []any
	store              bool
	truncation         string
	maxOutputTokens    *int
	parallelToolCalls  bool
	instructions       any
	previousResponseID any
	user               any
	metadata           map[string]any
}

func (e *EchoParams) resolve() resolvedEcho {
	r := resolvedEcho{
		temperature:       1.0,
		topP:              1.0,
		toolChoice:        "auto",
		tools:             []any{},
		store:             true,
		truncation:        "disabled",
		parallelToolCalls: true,
		metadata:          map[string]any{},
	}
	if e == nil {
		return r
	}
	if e.Temperature != nil {
		r.temperature = *e.Temperature
	}
	if e.TopP != nil {
		r.topP = *e.TopP
	}
	if e.ToolChoice != nil {
		r.toolChoice = e.ToolChoice
	}
	if e.Tools != nil {
		r.tools = e.Tools
	}
	if e.Store != nil {
		r.store = *e.Store
	}
	if e.Truncation != "" {
		r.truncation = e.Truncation
	}
	r.maxOutputTokens = e.MaxOutputTokens
	if e.ParallelToolCalls != nil {
		r.parallelToolCalls = *e.ParallelToolCalls
	}
	if e.Instructions != "" {
		r.instructions = e.Instructions
	}
	if e.PreviousResponseID != "" {
		r.previousResponseID = e.PreviousResponseID
	}
	if e.User != "" {
		r.user = e.User
	}
	if e.Metadata != nil {
		r.metadata = e.Metadata
	}
	return r
}

// WriteStreamHeaders writes the event-stream response headers.
func WriteStreamHeaders(w http.ResponseWriter, statusCode int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(statusCode)
}
