// Package pipeline wires the normalization engine to the upstream client:
// it forwards a client request, then turns the upstream answer into a chat
// completion or structured response, either as one JSON body or as a
// stream of events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-aiforwarder/internal/codec"
	"github.com/n0madic/go-aiforwarder/internal/config"
	"github.com/n0madic/go-aiforwarder/internal/metrics"
	"github.com/n0madic/go-aiforwarder/internal/models"
	"github.com/n0madic/go-aiforwarder/internal/normalize"
	"github.com/n0madic/go-aiforwarder/internal/sse"
	"github.com/n0madic/go-aiforwarder/internal/types"
	"github.com/n0madic/go-aiforwarder/internal/upstream"
)

// maxUpstreamBodyBytes bounds a non-streaming upstream body.
const maxUpstreamBodyBytes = 32 << 20

// Doer sends one upstream request. *upstream.Client implements it.
type Doer interface {
	Do(ctx context.Context, req *upstream.Request) (*upstream.Response, error)
}

// Pipeline orchestrates request processing through the
// forward → detect → extract → sanitize → encode flow.
type Pipeline struct {
	Config   *config.ServerConfig
	Upstream Doer
	Registry *models.Registry
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// Request is one client call as received by the HTTP layer.
type Request struct {
	Format codec.Format
	Body   []byte
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) debugModel() string {
	if p.Config == nil {
		return ""
	}
	return p.Config.DebugModel
}

// BuildNonStreamingEnvelope converts a complete upstream payload into the
// envelope for format. It never fails: unrecognized or invalid payloads
// yield a valid envelope carrying a single space.
func (p *Pipeline) BuildNonStreamingEnvelope(raw []byte, model string, format codec.Format, echo *codec.EchoParams) any {
	resolved := p.resolve(model)
	if model == "" {
		model = resolved
	}
	return p.buildEnvelope(raw, model, resolved, format, echo, 0)
}

func (p *Pipeline) buildEnvelope(raw []byte, requested, model string, format codec.Format, echo *codec.EchoParams, promptChars int) any {
	raw = upstream.UnwrapResult(raw)
	caps := p.capsFor(model)
	resp, shape := normalize.Extract(raw, normalize.ExtractContext{
		Model:            requested,
		ReasoningCapable: caps.IsReasoningCapable(model),
		PromptChars:      promptChars,
	})

	p.Metrics.ShapeDetected(shape.String())
	p.Metrics.Tokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if shape == types.ShapeUnrecognized {
		p.logger().Warn("unrecognized upstream response shape", "model", model, "body_bytes", len(raw))
	}

	if format == codec.FormatResponses {
		return codec.BuildResponses(resp, requested, echo)
	}
	return codec.BuildChat(resp, requested, caps)
}

// TranscodeStream returns the event stream for an upstream chunk stream.
// Transcoding runs in its own goroutine; closing the returned reader early
// aborts it.
func (p *Pipeline) TranscodeStream(up io.Reader, model string, format codec.Format, opts sse.Options) io.ReadCloser {
	resolved := p.resolve(model)
	if model == "" {
		model = resolved
	}
	opts.Model = model
	opts.Format = format
	if opts.Caps == nil {
		opts.Caps = p.capsFor(resolved)
	}
	if opts.Metrics == nil {
		opts.Metrics = p.Metrics
	}
	if opts.Logger == nil {
		opts.Logger = p.logger()
	}

	pr, pw := io.Pipe()
	go func() {
		err := sse.NewTranscoder(up, opts).Run(pw)
		pw.CloseWithError(err)
	}()
	return pr
}

func (p *Pipeline) resolve(name string) string {
	if p.Registry == nil {
		if name == "" {
			return models.DefaultModel
		}
		return name
	}
	return p.Registry.Resolve(name, p.debugModel())
}

func (p *Pipeline) capsFor(model string) pinnedCaps {
	c := pinnedCaps{model: model}
	if p.Registry != nil {
		c.caps = p.Registry
	}
	return c
}

// Execute forwards req upstream and writes the translated answer to w.
func (p *Pipeline) Execute(ctx context.Context, w http.ResponseWriter, req *Request) {
	start := time.Now()
	status := http.StatusOK
	stream := false
	defer func() {
		p.Metrics.Request(req.Format.String(), stream, status, time.Since(start))
	}()

	writeErr := func(code int, msg string) {
		status = code
		codec.WriteOpenAIError(w, code, msg)
	}

	if !gjson.ValidBytes(req.Body) || !gjson.ParseBytes(req.Body).IsObject() {
		writeErr(http.StatusBadRequest, "Invalid JSON body")
		return
	}
	root := gjson.ParseBytes(req.Body)

	requested := root.Get("model").String()
	model := p.resolve(requested)
	if requested == "" {
		requested = model
	}
	stream = root.Get("stream").Bool()

	body, err := UpstreamBody(req.Body, stream, p.capsFor(model).SupportsTools(model))
	if err != nil {
		writeErr(http.StatusBadRequest, err.Error())
		return
	}
	promptChars := PromptChars(req.Body)
	p.logRequest(req.Format, requested, model, stream, root, promptChars)

	resp, err := p.Upstream.Do(ctx, &upstream.Request{Model: model, Body: body, Stream: stream})
	if err != nil {
		var se *upstream.StatusError
		switch {
		case errors.As(err, &se):
			writeErr(clientStatus(se.StatusCode), se.Error())
		case errors.Is(err, upstream.ErrNoAccount):
			writeErr(http.StatusInternalServerError, err.Error())
		default:
			writeErr(http.StatusBadGateway, err.Error())
		}
		return
	}
	defer resp.Body.Close()

	var echo *codec.EchoParams
	if req.Format == codec.FormatResponses {
		echo = codec.EchoFromRequest(req.Body)
	}

	if stream {
		p.handleStream(w, resp, requested, model, req.Format, echo, promptChars)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodyBytes))
	if err != nil {
		writeErr(http.StatusBadGateway, fmt.Sprintf("read upstream body: %v", err))
		return
	}
	codec.WriteJSON(w, http.StatusOK, p.buildEnvelope(raw, requested, model, req.Format, echo, promptChars))
}

func (p *Pipeline) handleStream(w http.ResponseWriter, resp *upstream.Response, requested, model string, format codec.Format, echo *codec.EchoParams, promptChars int) {
	codec.WriteStreamHeaders(w, http.StatusOK)

	tr := sse.NewTranscoder(resp.Body, sse.Options{
		Model:       requested,
		Format:      format,
		Caps:        p.capsFor(model),
		PromptChars: promptChars,
		Echo:        echo,
		Metrics:     p.Metrics,
		Logger:      p.logger(),
	})
	if err := tr.Run(w); err != nil {
		p.logger().Debug("stream ended early", "model", model, "state", tr.State().String(), "error", err)
	}
}

// clientStatus maps an upstream status to the one reported to the client.
// Upstream 5xx and credential failures become 502.
func clientStatus(code int) int {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return http.StatusBadGateway
	case code >= 400 && code < 500:
		return code
	default:
		return http.StatusBadGateway
	}
}

// pinnedCaps answers capability queries for the resolved upstream model
// while envelopes carry the client's requested name.
type pinnedCaps struct {
	caps  models.Capabilities
	model string
}

func (c pinnedCaps) IsReasoningCapable(string) bool { return models.IsReasoningCapable(c.caps, c.model) }
func (c pinnedCaps) SupportsTools(string) bool      { return models.SupportsTools(c.caps, c.model) }

func (p *Pipeline) logRequest(format codec.Format, requested, model string, stream bool, root gjson.Result, promptChars int) {
	if p.Config == nil || !p.Config.Verbose {
		return
	}
	p.logger().Info("client.request",
		"format", format.String(),
		"requested_model", requested,
		"upstream_model", model,
		"stream", stream,
		"messages", len(root.Get("messages").Array()),
		"tools", len(root.Get("tools").Array()),
		"tool_choice", summarizeToolChoice(root.Get("tool_choice")),
		"prompt_chars", promptChars,
	)
}
