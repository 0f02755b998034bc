// Package sse transcodes an upstream chunk stream into chat completion or
// structured response server-sent events.
package sse

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/n0madic/go-aiforwarder/internal/codec"
	"github.com/n0madic/go-aiforwarder/internal/metrics"
	"github.com/n0madic/go-aiforwarder/internal/models"
	"github.com/n0madic/go-aiforwarder/internal/normalize"
	"github.com/n0madic/go-aiforwarder/internal/stream"
)

// DefaultReadSize is the upstream read buffer size.
const DefaultReadSize = 32 << 10

// State is the transcoder lifecycle state.
type State int

const (
	StateInit State = iota
	StateStreaming
	StateFinalizing
	StateClosed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures one transcoding run.
type Options struct {
	// Model is the client-requested model name echoed in every event.
	Model  string
	Format codec.Format
	Caps   models.Capabilities
	// PromptChars feeds prompt token estimation when upstream reports no usage.
	PromptChars int
	Echo        *codec.EchoParams
	Metrics     *metrics.Recorder
	Logger      *slog.Logger
	ReadSize    int
}

// encoder turns accumulator updates into outbound events. Implementations
// never write; the transcoder owns the writer.
type encoder interface {
	start() []Event
	update(u stream.Update) []Event
	finish() []Event
	abort() []Event
}

// session is the per-stream state shared by the transcoder and its encoder.
type session struct {
	acc    *stream.Accumulator
	opts   Options
	ctx    normalize.ExtractContext
	logger *slog.Logger
}

// Transcoder drives one upstream stream through the frame parser,
// accumulator and encoder. It is single use.
type Transcoder struct {
	session
	upstream io.Reader
	enc      encoder
	state    State

	w          io.Writer
	flusher    http.Flusher
	ran        bool
	terminated bool
}

// NewTranscoder prepares a transcoder reading from upstream.
func NewTranscoder(upstream io.Reader, opts Options) *Transcoder {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = DefaultReadSize
	}
	t := &Transcoder{
		session: session{
			acc:  stream.NewAccumulator(),
			opts: opts,
			ctx: normalize.ExtractContext{
				Model:            opts.Model,
				ReasoningCapable: models.IsReasoningCapable(opts.Caps, opts.Model),
				PromptChars:      opts.PromptChars,
			},
			logger: opts.Logger,
		},
		upstream: upstream,
	}
	switch opts.Format {
	case codec.FormatResponses:
		t.enc = newResponsesEncoder(&t.session)
	default:
		t.enc = newChatEncoder(&t.session)
	}
	return t
}

// State returns the current lifecycle state.
func (t *Transcoder) State() State { return t.state }

// Accumulator exposes the stream state, mainly for inspection after Run.
func (t *Transcoder) Accumulator() *stream.Accumulator { return t.acc }

// Run transcodes the whole upstream stream into w and returns when the
// stream is closed or aborted. Every run writes exactly one terminator
// unless w itself fails. A read error is returned after the best-effort
// terminal events; a write error is returned as is.
func (t *Transcoder) Run(w io.Writer) error {
	if t.ran {
		panic("sse: Transcoder.Run called twice")
	}
	t.ran = true
	t.w = w
	t.flusher, _ = w.(http.Flusher)

	if err := t.emit(t.enc.start()); err != nil {
		return t.writeFailed(err)
	}
	t.state = StateStreaming

	buf := make([]byte, t.opts.ReadSize)
	for {
		n, err := t.upstream.Read(buf)
		if n > 0 {
			done, werr := t.handleFrames(t.acc.Feed(buf[:n]))
			if werr != nil {
				return t.writeFailed(werr)
			}
			if done {
				return t.finish()
			}
		}
		if errors.Is(err, io.EOF) {
			if _, werr := t.handleFrames(t.acc.Flush()); werr != nil {
				return t.writeFailed(werr)
			}
			return t.finish()
		}
		if err != nil {
			return t.readFailed(err)
		}
	}
}

// handleFrames processes complete frame payloads in arrival order. It
// reports done once the upstream signalled end of turn.
func (t *Transcoder) handleFrames(frames [][]byte) (bool, error) {
	for _, payload := range frames {
		if stream.IsDone(payload) {
			return true, nil
		}
		d, err := stream.ParseFrame(payload)
		if err != nil {
			t.acc.Malformed++
			t.opts.Metrics.FrameMalformed()
			t.logger.Debug("skipping malformed upstream frame", "error", err)
			continue
		}
		t.opts.Metrics.FrameParsed(d.Shape.String())
		if d.Suppressed {
			t.opts.Metrics.ContentSuppressed()
		}

		u := t.acc.Apply(d)
		for _, o := range u.Oversize {
			t.logger.Warn("tool argument size limit exceeded, dropping fragment", "index", o.Index, "buf_len", o.Buffered, "delta_len", o.Dropped)
		}
		t.opts.Metrics.ToolArgumentsDropped(len(u.Oversize))
		if err := t.emit(t.enc.update(u)); err != nil {
			return false, err
		}
		if u.Finished {
			return true, nil
		}
	}
	return false, nil
}

func (t *Transcoder) finish() error {
	t.state = StateFinalizing
	if err := t.emit(t.enc.finish()); err != nil {
		return t.writeFailed(err)
	}
	t.state = StateClosed
	t.opts.Metrics.StreamFinished(t.opts.Format.String(), metrics.OutcomeCompleted)
	usage := t.acc.Snapshot(t.ctx).Usage
	t.opts.Metrics.Tokens(usage.PromptTokens, usage.CompletionTokens)
	return nil
}

func (t *Transcoder) readFailed(err error) error {
	t.state = StateAborted
	t.logger.Warn("upstream stream failed, closing with a minimal terminal event", "error", err, "frames", t.acc.Frames)
	t.opts.Metrics.StreamFinished(t.opts.Format.String(), metrics.OutcomeUpstreamError)
	if werr := t.emit(t.enc.abort()); werr != nil {
		t.logger.Debug("best-effort terminal write failed", "error", werr)
	}
	return fmt.Errorf("read upstream: %w", err)
}

func (t *Transcoder) writeFailed(err error) error {
	t.state = StateAborted
	t.logger.Warn("client write failed, aborting stream", "error", err)
	t.opts.Metrics.StreamFinished(t.opts.Format.String(), metrics.OutcomeClientGone)
	if !t.terminated {
		_ = t.emit(t.enc.abort())
	}
	return fmt.Errorf("write event: %w", err)
}

// emit writes events in order, flushing after each one.
func (t *Transcoder) emit(events []Event) error {
	for _, ev := range events {
		if t.terminated {
			return nil
		}
		if _, err := ev.WriteTo(t.w); err != nil {
			return err
		}
		if ev.IsDone() {
			t.terminated = true
		}
		if t.flusher != nil {
			t.flusher.Flush()
		}
	}
	return nil
}
