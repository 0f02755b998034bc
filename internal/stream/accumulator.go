// Package stream holds the per-stream state used to transcode an upstream
// chunk stream: frame splitting, per-frame delta parsing and the accumulator
// that reassembles content, reasoning and tool-call arguments.
package stream

import (
	"slices"
	"strings"

	"github.com/n0madic/go-aiforwarder/internal/normalize"
	"github.com/n0madic/go-aiforwarder/internal/types"
)

// MaxToolArgBufSize is the upper bound (in bytes) for buffered function-call
// arguments per tool call.
const MaxToolArgBufSize = 1 << 20 // 1 MB

// ToolSlot reassembles one streamed tool call.
type ToolSlot struct {
	Index int
	ID    string
	Name  string
	// Arguments is everything received so far for this slot.
	Arguments string
	// Pending holds fragments received before the slot had a name.
	Pending string
	// Announced is set once the slot has been reported downstream.
	Announced bool

	// Set by the structured encoder when the slot is announced.
	OutputIndex int
	ItemID      string
}

// Accumulator is the state of one in-flight stream. It is owned by a single
// goroutine and discarded when the stream ends.
type Accumulator struct {
	FrameBuffer []byte
	Content     strings.Builder
	Reasoning   strings.Builder
	ToolCalls   map[int]*ToolSlot

	EmittedFirstText      bool
	EmittedFirstReasoning bool

	Finished     bool
	FinishReason string
	Usage        *types.UsageStats

	// Frames counts parsed frames, Malformed counts skipped ones.
	Frames    int
	Malformed int
	// OversizeFragments counts tool argument fragments dropped because the
	// slot would exceed MaxToolArgBufSize.
	OversizeFragments int

	nextOutputIndex int
	sequence        int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{ToolCalls: map[int]*ToolSlot{}}
}

// ToolUpdate describes what a frame changed for one tool slot.
type ToolUpdate struct {
	Slot *ToolSlot
	// Announce is set the first time the slot is reported.
	Announce bool
	// Fragment is the argument text to forward now.
	Fragment string
}

// Update is the result of applying one frame.
type Update struct {
	Content   string
	Reasoning string
	Tools     []ToolUpdate
	Finished  bool
	// Oversize lists tool argument fragments this frame dropped for size.
	Oversize []ToolOverflow
}

// ToolOverflow describes one argument fragment that was not buffered.
type ToolOverflow struct {
	Index    int
	Buffered int
	Dropped  int
}

// Empty reports whether the update carries nothing to emit.
func (u Update) Empty() bool {
	return u.Content == "" && u.Reasoning == "" && len(u.Tools) == 0 && !u.Finished
}

// Apply folds a frame delta into the accumulator and returns what should be
// forwarded. Tool fragments are forwarded as soon as their slot has a name;
// earlier fragments are held in Pending and released together with the
// announcement.
func (a *Accumulator) Apply(d FrameDelta) Update {
	var u Update
	a.Frames++

	if d.Content != "" {
		a.Content.WriteString(d.Content)
		u.Content = d.Content
	}
	if d.Reasoning != "" {
		a.Reasoning.WriteString(d.Reasoning)
		u.Reasoning = d.Reasoning
	}

	for _, frag := range d.ToolCalls {
		slot := a.slot(frag.Index)
		if slot.ID == "" && frag.ID != "" {
			slot.ID = frag.ID
		}
		if slot.Name == "" && frag.Name != "" {
			slot.Name = frag.Name
		}
		if len(slot.Arguments)+len(frag.Arguments) > MaxToolArgBufSize {
			a.OversizeFragments++
			u.Oversize = append(u.Oversize, ToolOverflow{Index: frag.Index, Buffered: len(slot.Arguments), Dropped: len(frag.Arguments)})
			continue
		}
		slot.Arguments += frag.Arguments

		if slot.Name == "" {
			slot.Pending += frag.Arguments
			continue
		}
		tu := ToolUpdate{Slot: slot, Fragment: frag.Arguments}
		if !slot.Announced {
			slot.Announced = true
			tu.Announce = true
			tu.Fragment = slot.Pending + frag.Arguments
			slot.Pending = ""
		}
		if tu.Announce || tu.Fragment != "" {
			u.Tools = append(u.Tools, tu)
		}
	}

	if d.Usage != nil {
		usage := *d.Usage
		a.Usage = &usage
	}
	if d.Finished {
		a.Finished = true
		if d.FinishReason != "" {
			a.FinishReason = d.FinishReason
		}
		u.Finished = true
	}
	return u
}

// FlushPending releases fragments still held for slots at end of turn.
// Named slots are announced with their pending arguments. Nameless slots
// cannot be reported and are returned separately so callers can log them.
func (a *Accumulator) FlushPending() (flushed []ToolUpdate, dropped []*ToolSlot) {
	for _, slot := range a.Slots() {
		switch {
		case slot.Name == "":
			if slot.Arguments != "" || slot.ID != "" {
				dropped = append(dropped, slot)
			}
		case !slot.Announced:
			slot.Announced = true
			flushed = append(flushed, ToolUpdate{Slot: slot, Announce: true, Fragment: slot.Pending})
			slot.Pending = ""
		case slot.Pending != "":
			flushed = append(flushed, ToolUpdate{Slot: slot, Fragment: slot.Pending})
			slot.Pending = ""
		}
	}
	return flushed, dropped
}

// Slots returns all tool slots ordered by provider index.
func (a *Accumulator) Slots() []*ToolSlot {
	keys := make([]int, 0, len(a.ToolCalls))
	for k := range a.ToolCalls {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]*ToolSlot, 0, len(keys))
	for _, k := range keys {
		out = append(out, a.ToolCalls[k])
	}
	return out
}

// AnnouncedSlots returns the slots that were reported downstream.
func (a *Accumulator) AnnouncedSlots() []*ToolSlot {
	var out []*ToolSlot
	for _, s := range a.Slots() {
		if s.Announced {
			out = append(out, s)
		}
	}
	return out
}

func (a *Accumulator) slot(index int) *ToolSlot {
	if a.ToolCalls == nil {
		a.ToolCalls = map[int]*ToolSlot{}
	}
	s, ok := a.ToolCalls[index]
	if !ok {
		s = &ToolSlot{Index: index, OutputIndex: -1}
		a.ToolCalls[index] = s
	}
	return s
}

// HasOutput reports whether anything at all was accumulated.
func (a *Accumulator) HasOutput() bool {
	return a.Content.Len() > 0 || a.Reasoning.Len() > 0 || len(a.AnnouncedSlots()) > 0
}

// NextOutputIndex allocates the next structured output index.
func (a *Accumulator) NextOutputIndex() int {
	i := a.nextOutputIndex
	a.nextOutputIndex++
	return i
}

// NextSequence returns the next event sequence number.
func (a *Accumulator) NextSequence() int {
	s := a.sequence
	a.sequence++
	return s
}

// Snapshot builds the sanitized canonical response for everything
// accumulated so far.
func (a *Accumulator) Snapshot(ctx normalize.ExtractContext) types.CanonicalResponse {
	resp := types.CanonicalResponse{
		Text:          a.Content.String(),
		ReasoningText: a.Reasoning.String(),
		ContentType:   types.ContentTypeJSON,
	}
	for _, s := range a.AnnouncedSlots() {
		resp.ToolCalls = append(resp.ToolCalls, types.ToolCallRequest{
			ID:        s.ID,
			Name:      s.Name,
			Arguments: s.Arguments,
		})
	}
	if resp.HasToolCalls() && strings.TrimSpace(resp.Text) == "" {
		resp.Text = ""
	}
	resp.Usage = normalize.UsageFor(a.Usage, resp.Text, resp.ReasoningText, ctx)
	return normalize.Sanitize(resp)
}
