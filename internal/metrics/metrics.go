// Package metrics exposes Prometheus counters for the normalization and
// streaming pipeline.
//
// All Recorder methods are safe to call on a nil receiver so callers that do
// not care about metrics can pass nil.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream outcomes.
const (
	OutcomeCompleted     = "completed"
	OutcomeUpstreamError = "upstream_error"
	OutcomeClientGone    = "client_gone"
)

// Recorder owns a Prometheus registry and the pipeline's metric vectors.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	shapesTotal      *prometheus.CounterVec
	framesTotal      *prometheus.CounterVec
	malformedTotal   prometheus.Counter
	suppressedTotal  prometheus.Counter
	droppedToolCalls prometheus.Counter
	droppedToolArgs  prometheus.Counter
	streamsTotal     *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
	catalogReloads   *prometheus.CounterVec
}

// New creates a Recorder registered on registry. A nil registry gets a
// fresh one.
func New(namespace string, registry *prometheus.Registry) *Recorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "aiforwarder"
	}

	r := &Recorder{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Client requests by endpoint format, streaming mode and status code",
			},
			[]string{"format", "stream", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"format", "stream"},
		),
		shapesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_shapes_total",
				Help:      "Non-streaming upstream bodies by detected shape",
			},
			[]string{"shape"},
		),
		framesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_frames_total",
				Help:      "Parsed upstream stream frames by shape",
			},
			[]string{"shape"},
		),
		malformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_malformed_total",
			Help:      "Upstream stream frames skipped as malformed",
		}),
		suppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_content_suppressed_total",
			Help:      "Content deltas suppressed because they duplicated a tool call",
		}),
		droppedToolCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_tool_calls_dropped_total",
			Help:      "Streamed tool calls dropped at finalization for lack of a name",
		}),
		droppedToolArgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_tool_argument_fragments_dropped_total",
			Help:      "Streamed tool argument fragments dropped for exceeding the per-call buffer limit",
		}),
		streamsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_total",
				Help:      "Finished client streams by format and outcome",
			},
			[]string{"format", "outcome"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Reported or estimated tokens by type",
			},
			[]string{"type"},
		),
		catalogReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_reloads_total",
				Help:      "Model catalog reloads by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		r.requestsTotal,
		r.requestDuration,
		r.shapesTotal,
		r.framesTotal,
		r.malformedTotal,
		r.suppressedTotal,
		r.droppedToolCalls,
		r.droppedToolArgs,
		r.streamsTotal,
		r.tokensTotal,
		r.catalogReloads,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (r *Recorder) Request(format string, stream bool, code int, elapsed time.Duration) {
	if r == nil {
		return
	}
	s := strconv.FormatBool(stream)
	r.requestsTotal.WithLabelValues(format, s, strconv.Itoa(code)).Inc()
	r.requestDuration.WithLabelValues(format, s).Observe(elapsed.Seconds())
}

func (r *Recorder) ShapeDetected(shape string) {
	if r == nil {
		return
	}
	r.shapesTotal.WithLabelValues(shape).Inc()
}

func (r *Recorder) FrameParsed(shape string) {
	if r == nil {
		return
	}
	r.framesTotal.WithLabelValues(shape).Inc()
}

func (r *Recorder) FrameMalformed() {
	if r == nil {
		return
	}
	r.malformedTotal.Inc()
}

func (r *Recorder) ContentSuppressed() {
	if r == nil {
		return
	}
	r.suppressedTotal.Inc()
}

func (r *Recorder) ToolCallsDropped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.droppedToolCalls.Add(float64(n))
}

func (r *Recorder) ToolArgumentsDropped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.droppedToolArgs.Add(float64(n))
}

func (r *Recorder) StreamFinished(format, outcome string) {
	if r == nil {
		return
	}
	r.streamsTotal.WithLabelValues(format, outcome).Inc()
}

// Tokens adds prompt and completion token counts.
func (r *Recorder) Tokens(prompt, completion int) {
	if r == nil {
		return
	}
	if prompt > 0 {
		r.tokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	}
	if completion > 0 {
		r.tokensTotal.WithLabelValues("completion").Add(float64(completion))
	}
}

// CatalogReloaded records a model catalog reload; err nil counts as success.
func (r *Recorder) CatalogReloaded(err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.catalogReloads.WithLabelValues(result).Inc()
}
