package stream

import (
	"bytes"
	"log/slog"
)

// MaxFrameBufSize bounds the unterminated tail kept between reads.
const MaxFrameBufSize = 4 << 20 // 4 MB

var doneMarker = []byte("[DONE]")

// Feed appends a network read to the frame buffer and returns every complete
// frame payload it now contains, in arrival order. The trailing partial line
// stays buffered for the next call.
//
// Frames are newline delimited, which covers both "data: " SSE framing
// (blank-line separated) and bare newline-delimited JSON. Payloads have the
// optional "data:" prefix stripped; event:, id:, retry: and comment lines are
// dropped.
func (a *Accumulator) Feed(chunk []byte) [][]byte {
	a.FrameBuffer = append(a.FrameBuffer, chunk...)

	var frames [][]byte
	for {
		i := bytes.IndexByte(a.FrameBuffer, '\n')
		if i < 0 {
			break
		}
		line := a.FrameBuffer[:i]
		a.FrameBuffer = a.FrameBuffer[i+1:]
		if payload, ok := framePayload(line); ok {
			frames = append(frames, bytes.Clone(payload))
		}
	}

	if len(a.FrameBuffer) == 0 {
		a.FrameBuffer = nil
	} else if len(a.FrameBuffer) > MaxFrameBufSize {
		slog.Warn("frame buffer size limit exceeded, dropping partial frame", "buf_len", len(a.FrameBuffer))
		a.FrameBuffer = nil
	}
	return frames
}

// Flush returns the buffered tail as a final frame once the upstream has
// reached EOF without a trailing newline.
func (a *Accumulator) Flush() [][]byte {
	tail := a.FrameBuffer
	a.FrameBuffer = nil
	if payload, ok := framePayload(tail); ok {
		return [][]byte{bytes.Clone(payload)}
	}
	return nil
}

// IsDone reports whether payload is the literal end-of-stream marker.
func IsDone(payload []byte) bool {
	return bytes.Equal(bytes.TrimSpace(payload), doneMarker)
}

func framePayload(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == ':' {
		return nil, false
	}
	if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
		rest = bytes.TrimSpace(rest)
		return rest, len(rest) > 0
	}
	for _, field := range [][]byte{[]byte("event:"), []byte("id:"), []byte("retry:")} {
		if bytes.HasPrefix(line, field) {
			return nil, false
		}
	}
	return line, true
}
