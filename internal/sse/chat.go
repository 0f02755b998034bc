package sse

import (
	"time"

	"github.com/n0madic/go-aiforwarder/internal/codec"
	"github.com/n0madic/go-aiforwarder/internal/models"
	"github.com/n0madic/go-aiforwarder/internal/normalize"
	"github.com/n0madic/go-aiforwarder/internal/stream"
	"github.com/n0madic/go-aiforwarder/internal/types"
)

// chatEncoder emits chat.completion.chunk frames.
type chatEncoder struct {
	*session
	id            string
	fingerprint   string
	created       int64
	showReasoning bool
	finished      bool
}

func newChatEncoder(s *session) *chatEncoder {
	return &chatEncoder{
		session:       s,
		id:            codec.NewChatID(),
		fingerprint:   codec.NewFingerprint(),
		created:       time.Now().Unix(),
		showReasoning: models.IsReasoningCapable(s.opts.Caps, s.opts.Model),
	}
}

func (e *chatEncoder) chunk(delta types.ChatDelta, finish *string) Event {
	return jsonEvent("", types.ChatCompletionChunk{
		ID:                e.id,
		Object:            "chat.completion.chunk",
		Created:           e.created,
		Model:             e.opts.Model,
		SystemFingerprint: e.fingerprint,
		Choices: []types.ChatChunkChoice{
			{Index: 0, Delta: delta, FinishReason: finish},
		},
	})
}

func (e *chatEncoder) start() []Event {
	return []Event{e.chunk(types.ChatDelta{Role: "assistant"}, nil)}
}

func (e *chatEncoder) update(u stream.Update) []Event {
	var out []Event
	if u.Reasoning != "" && e.showReasoning {
		e.acc.EmittedFirstReasoning = true
		out = append(out, e.chunk(types.ChatDelta{ReasoningContent: u.Reasoning}, nil))
	}
	if u.Content != "" {
		e.acc.EmittedFirstText = true
		out = append(out, e.chunk(types.ChatDelta{Content: types.StringPtr(u.Content)}, nil))
	}
	return append(out, e.toolChunks(u.Tools)...)
}

func (e *chatEncoder) toolChunks(tools []stream.ToolUpdate) []Event {
	var out []Event
	for _, tu := range tools {
		slot := tu.Slot
		tc := types.ToolCall{Function: types.FunctionCall{Arguments: tu.Fragment}}
		if tu.Announce {
			slot.OutputIndex = e.acc.NextOutputIndex()
			slot.ID = codec.CallIDOr(slot.ID)
			tc.ID = slot.ID
			tc.Type = "function"
			tc.Function.Name = slot.Name
		}
		tc.Index = types.IntPtr(slot.OutputIndex)
		out = append(out, e.chunk(types.ChatDelta{ToolCalls: []types.ToolCall{tc}}, nil))
	}
	return out
}

func (e *chatEncoder) finish() []Event {
	flushed, dropped := e.acc.FlushPending()
	out := e.toolChunks(flushed)
	logDropped(e.session, dropped)

	announced := len(e.acc.AnnouncedSlots()) > 0
	visibleReasoning := e.showReasoning && e.acc.Reasoning.Len() > 0
	if e.acc.Content.Len() == 0 && !announced && !visibleReasoning {
		e.acc.Content.WriteString(normalize.EmptyText)
		out = append(out, e.chunk(types.ChatDelta{Content: types.StringPtr(normalize.EmptyText)}, nil))
	}

	reason := "stop"
	if announced {
		reason = "tool_calls"
	}
	out = append(out, e.chunk(types.ChatDelta{}, types.StringPtr(reason)))
	e.finished = true

	usage := types.ChatUsage(e.acc.Snapshot(e.ctx).Usage)
	out = append(out, jsonEvent("", types.ChatCompletionChunk{
		ID:                e.id,
		Object:            "chat.completion.chunk",
		Created:           e.created,
		Model:             e.opts.Model,
		SystemFingerprint: e.fingerprint,
		Choices:           []types.ChatChunkChoice{},
		Usage:             &usage,
	}))
	return append(out, doneEvent)
}

func (e *chatEncoder) abort() []Event {
	if e.finished {
		return []Event{doneEvent}
	}
	e.finished = true
	return []Event{
		e.chunk(types.ChatDelta{Content: types.StringPtr(normalize.EmptyText)}, types.StringPtr("stop")),
		doneEvent,
	}
}

// logDropped reports tool calls that never received a name.
func logDropped(s *session, dropped []*stream.ToolSlot) {
	if len(dropped) == 0 {
		return
	}
	for _, slot := range dropped {
		s.logger.Warn("dropping streamed tool call without a name", "index", slot.Index, "id", slot.ID, "args_len", len(slot.Arguments))
	}
	s.opts.Metrics.ToolCallsDropped(len(dropped))
}
