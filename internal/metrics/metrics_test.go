package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Request("chat", true, 200, time.Second)
	r.ShapeDetected("openai_compatible")
	r.FrameParsed("legacy_direct_text")
	r.FrameMalformed()
	r.ContentSuppressed()
	r.ToolCallsDropped(2)
	r.ToolArgumentsDropped(1)
	r.StreamFinished("responses", OutcomeCompleted)
	r.Tokens(1, 2)
	r.CatalogReloaded(nil)
	if r.Registry() != nil {
		t.Fatal("nil recorder should have no registry")
	}

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRecorderCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New("test", reg)

	r.FrameParsed("openai_compatible")
	r.FrameParsed("openai_compatible")
	r.FrameMalformed()
	r.ToolCallsDropped(3)
	r.ToolCallsDropped(0)
	r.ToolArgumentsDropped(2)
	r.ToolArgumentsDropped(-1)
	r.StreamFinished("chat_completions", OutcomeClientGone)
	r.Tokens(10, 0)
	r.CatalogReloaded(errors.New("bad yaml"))

	if got := testutil.ToFloat64(r.framesTotal.WithLabelValues("openai_compatible")); got != 2 {
		t.Errorf("frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.malformedTotal); got != 1 {
		t.Errorf("malformed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.droppedToolCalls); got != 3 {
		t.Errorf("dropped = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.droppedToolArgs); got != 2 {
		t.Errorf("dropped argument fragments = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.streamsTotal.WithLabelValues("chat_completions", OutcomeClientGone)); got != 1 {
		t.Errorf("streams = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.tokensTotal.WithLabelValues("prompt")); got != 10 {
		t.Errorf("prompt tokens = %v, want 10", got)
	}
	if got := testutil.ToFloat64(r.catalogReloads.WithLabelValues("error")); got != 1 {
		t.Errorf("reload errors = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New("", nil)
	r.ShapeDetected("structured_output")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `aiforwarder_upstream_shapes_total{shape="structured_output"} 1`) {
		t.Fatalf("exposition missing shape counter:\n%s", rec.Body.String())
	}
}
