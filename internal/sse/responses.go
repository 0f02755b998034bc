package sse

import (
	"encoding/json"

	"github.com/tidwall/sjson"

	"github.com/n0madic/go-aiforwarder/internal/codec"
	"github.com/n0madic/go-aiforwarder/internal/models"
	"github.com/n0madic/go-aiforwarder/internal/normalize"
	"github.com/n0madic/go-aiforwarder/internal/stream"
	"github.com/n0madic/go-aiforwarder/internal/types"
)

const (
	itemReasoning = "reasoning"
	itemMessage   = "message"
	itemFunction  = "function_call"
)

// outputItem tracks one structured output item opened during the stream.
type outputItem struct {
	kind  string
	index int
	id    string
	slot  *stream.ToolSlot
}

// responsesEncoder emits structured response events. Output items are
// opened lazily when their first delta arrives and closed at finish in
// output-index order.
type responsesEncoder struct {
	*session
	meta          codec.ResponseMeta
	showReasoning bool
	reasoning     *outputItem
	message       *outputItem
	items         []*outputItem
	completed     bool
}

func newResponsesEncoder(s *session) *responsesEncoder {
	return &responsesEncoder{
		session:       s,
		meta:          codec.NewResponseMeta(s.opts.Model),
		showReasoning: models.IsReasoningCapable(s.opts.Caps, s.opts.Model),
	}
}

func (e *responsesEncoder) event(name, tmpl string) Event {
	tmpl, _ = sjson.Set(tmpl, "sequence_number", e.acc.NextSequence())
	return Event{Name: name, Data: []byte(tmpl)}
}

func (e *responsesEncoder) responseEvent(name string, resp *types.ResponsesResponse) Event {
	raw, _ := json.Marshal(resp)
	ev := `{"type":"","sequence_number":0,"response":{}}`
	ev, _ = sjson.Set(ev, "type", name)
	ev, _ = sjson.SetRaw(ev, "response", string(raw))
	return e.event(name, ev)
}

func (e *responsesEncoder) itemEvent(name string, index int, item types.ResponsesOutputItem) Event {
	raw, _ := json.Marshal(item)
	ev := `{"type":"","sequence_number":0,"output_index":0,"item":{}}`
	ev, _ = sjson.Set(ev, "type", name)
	ev, _ = sjson.Set(ev, "output_index", index)
	ev, _ = sjson.SetRaw(ev, "item", string(raw))
	return e.event(name, ev)
}

func (e *responsesEncoder) open(kind, id string) *outputItem {
	it := &outputItem{kind: kind, index: e.acc.NextOutputIndex(), id: id}
	e.items = append(e.items, it)
	return it
}

func (e *responsesEncoder) start() []Event {
	snapshot := codec.AssembleResponse(e.meta, "in_progress", nil, "", types.UsageStats{}, e.opts.Echo)
	return []Event{
		e.responseEvent("response.created", snapshot),
		e.responseEvent("response.in_progress", snapshot),
	}
}

func (e *responsesEncoder) update(u stream.Update) []Event {
	var out []Event
	if u.Reasoning != "" && e.showReasoning {
		out = append(out, e.reasoningDelta(u.Reasoning)...)
	}
	if u.Content != "" {
		out = append(out, e.textDelta(u.Content)...)
	}
	return append(out, e.toolEvents(u.Tools)...)
}

func (e *responsesEncoder) reasoningDelta(delta string) []Event {
	var out []Event
	if !e.acc.EmittedFirstReasoning {
		e.acc.EmittedFirstReasoning = true
		e.reasoning = e.open(itemReasoning, codec.NewReasoningID())

		ev := `{"type":"response.output_item.added","sequence_number":0,"output_index":0,"item":{"id":"","type":"reasoning","status":"in_progress","summary":[]}}`
		ev, _ = sjson.Set(ev, "output_index", e.reasoning.index)
		ev, _ = sjson.Set(ev, "item.id", e.reasoning.id)
		out = append(out, e.event("response.output_item.added", ev))

		ev = `{"type":"response.reasoning_summary_part.added","sequence_number":0,"item_id":"","output_index":0,"summary_index":0,"part":{"type":"summary_text","text":""}}`
		ev, _ = sjson.Set(ev, "item_id", e.reasoning.id)
		ev, _ = sjson.Set(ev, "output_index", e.reasoning.index)
		out = append(out, e.event("response.reasoning_summary_part.added", ev))
	}
	ev := `{"type":"response.reasoning_summary_text.delta","sequence_number":0,"item_id":"","output_index":0,"summary_index":0,"delta":""}`
	ev, _ = sjson.Set(ev, "item_id", e.reasoning.id)
	ev, _ = sjson.Set(ev, "output_index", e.reasoning.index)
	ev, _ = sjson.Set(ev, "delta", delta)
	return append(out, e.event("response.reasoning_summary_text.delta", ev))
}

func (e *responsesEncoder) textDelta(delta string) []Event {
	var out []Event
	if !e.acc.EmittedFirstText {
		e.acc.EmittedFirstText = true
		e.message = e.open(itemMessage, codec.NewMessageID())

		ev := `{"type":"response.output_item.added","sequence_number":0,"output_index":0,"item":{"id":"","type":"message","status":"in_progress","content":[],"role":"assistant"}}`
		ev, _ = sjson.Set(ev, "output_index", e.message.index)
		ev, _ = sjson.Set(ev, "item.id", e.message.id)
		out = append(out, e.event("response.output_item.added", ev))

		ev = `{"type":"response.content_part.added","sequence_number":0,"item_id":"","output_index":0,"content_index":0,"part":{"type":"output_text","annotations":[],"logprobs":[],"text":""}}`
		ev, _ = sjson.Set(ev, "item_id", e.message.id)
		ev, _ = sjson.Set(ev, "output_index", e.message.index)
		out = append(out, e.event("response.content_part.added", ev))
	}
	ev := `{"type":"response.output_text.delta","sequence_number":0,"item_id":"","output_index":0,"content_index":0,"delta":"","logprobs":[]}`
	ev, _ = sjson.Set(ev, "item_id", e.message.id)
	ev, _ = sjson.Set(ev, "output_index", e.message.index)
	ev, _ = sjson.Set(ev, "delta", delta)
	return append(out, e.event("response.output_text.delta", ev))
}

func (e *responsesEncoder) toolEvents(tools []stream.ToolUpdate) []Event {
	var out []Event
	for _, tu := range tools {
		slot := tu.Slot
		if tu.Announce {
			slot.ID = codec.CallIDOr(slot.ID)
			slot.ItemID = codec.NewFunctionItemID()
			it := e.open(itemFunction, slot.ItemID)
			it.slot = slot
			slot.OutputIndex = it.index

			ev := `{"type":"response.output_item.added","sequence_number":0,"output_index":0,"item":{"id":"","type":"function_call","status":"in_progress","arguments":"","call_id":"","name":""}}`
			ev, _ = sjson.Set(ev, "output_index", it.index)
			ev, _ = sjson.Set(ev, "item.id", slot.ItemID)
			ev, _ = sjson.Set(ev, "item.call_id", slot.ID)
			ev, _ = sjson.Set(ev, "item.name", slot.Name)
			out = append(out, e.event("response.output_item.added", ev))
		}
		if tu.Fragment == "" {
			continue
		}
		ev := `{"type":"response.function_call_arguments.delta","sequence_number":0,"item_id":"","output_index":0,"delta":""}`
		ev, _ = sjson.Set(ev, "item_id", slot.ItemID)
		ev, _ = sjson.Set(ev, "output_index", slot.OutputIndex)
		ev, _ = sjson.Set(ev, "delta", tu.Fragment)
		out = append(out, e.event("response.function_call_arguments.delta", ev))
	}
	return out
}

func (e *responsesEncoder) finish() []Event {
	flushed, dropped := e.acc.FlushPending()
	out := e.toolEvents(flushed)
	logDropped(e.session, dropped)

	if len(e.items) == 0 {
		out = append(out, e.textDelta(normalize.EmptyText)...)
		e.acc.Content.WriteString(normalize.EmptyText)
	}

	for _, it := range e.items {
		out = append(out, e.doneEvents(it)...)
	}
	out = append(out, e.completedEvent())
	return append(out, doneEvent)
}

func (e *responsesEncoder) doneEvents(it *outputItem) []Event {
	switch it.kind {
	case itemReasoning:
		text := e.acc.Reasoning.String()
		ev := `{"type":"response.reasoning_summary_text.done","sequence_number":0,"item_id":"","output_index":0,"summary_index":0,"text":""}`
		ev, _ = sjson.Set(ev, "item_id", it.id)
		ev, _ = sjson.Set(ev, "output_index", it.index)
		ev, _ = sjson.Set(ev, "text", text)
		textDone := e.event("response.reasoning_summary_text.done", ev)

		ev = `{"type":"response.reasoning_summary_part.done","sequence_number":0,"item_id":"","output_index":0,"summary_index":0,"part":{"type":"summary_text","text":""}}`
		ev, _ = sjson.Set(ev, "item_id", it.id)
		ev, _ = sjson.Set(ev, "output_index", it.index)
		ev, _ = sjson.Set(ev, "part.text", text)
		partDone := e.event("response.reasoning_summary_part.done", ev)

		return []Event{textDone, partDone, e.itemEvent("response.output_item.done", it.index, e.finalItem(it))}

	case itemMessage:
		text := e.acc.Content.String()
		ev := `{"type":"response.output_text.done","sequence_number":0,"item_id":"","output_index":0,"content_index":0,"text":"","logprobs":[]}`
		ev, _ = sjson.Set(ev, "item_id", it.id)
		ev, _ = sjson.Set(ev, "output_index", it.index)
		ev, _ = sjson.Set(ev, "text", text)
		textDone := e.event("response.output_text.done", ev)

		ev = `{"type":"response.content_part.done","sequence_number":0,"item_id":"","output_index":0,"content_index":0,"part":{"type":"output_text","annotations":[],"logprobs":[],"text":""}}`
		ev, _ = sjson.Set(ev, "item_id", it.id)
		ev, _ = sjson.Set(ev, "output_index", it.index)
		ev, _ = sjson.Set(ev, "part.text", text)
		partDone := e.event("response.content_part.done", ev)

		return []Event{textDone, partDone, e.itemEvent("response.output_item.done", it.index, e.finalItem(it))}

	default:
		ev := `{"type":"response.function_call_arguments.done","sequence_number":0,"item_id":"","output_index":0,"arguments":""}`
		ev, _ = sjson.Set(ev, "item_id", it.id)
		ev, _ = sjson.Set(ev, "output_index", it.index)
		ev, _ = sjson.Set(ev, "arguments", codec.SerializeToolArgs(it.slot.Arguments))
		return []Event{
			e.event("response.function_call_arguments.done", ev),
			e.itemEvent("response.output_item.done", it.index, e.finalItem(it)),
		}
	}
}

func (e *responsesEncoder) finalItem(it *outputItem) types.ResponsesOutputItem {
	switch it.kind {
	case itemReasoning:
		return codec.ReasoningItem(it.id, e.acc.Reasoning.String())
	case itemMessage:
		return codec.MessageItem(it.id, e.acc.Content.String(), "completed")
	default:
		return codec.FunctionCallItem(it.id, it.slot.ID, it.slot.Name, codec.SerializeToolArgs(it.slot.Arguments), "completed")
	}
}

func (e *responsesEncoder) completedEvent() Event {
	e.completed = true
	output := make([]types.ResponsesOutputItem, 0, len(e.items))
	for _, it := range e.items {
		output = append(output, e.finalItem(it))
	}
	snap := e.acc.Snapshot(e.ctx)
	resp := codec.AssembleResponse(e.meta, "completed", output, snap.ReasoningText, snap.Usage, e.opts.Echo)
	return e.responseEvent("response.completed", resp)
}

func (e *responsesEncoder) abort() []Event {
	if e.completed {
		return []Event{doneEvent}
	}
	return []Event{e.completedEvent(), doneEvent}
}
