package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/n0madic/go-aiforwarder/internal/codec"
	"github.com/n0madic/go-aiforwarder/internal/config"
)

// upstreamHTTPTimeout is the default limit for one upstream call. Streams
// can be long-lived, so it is generous.
const upstreamHTTPTimeout = 5 * time.Minute

// maxErrorBodyBytes bounds how much of a failed response is kept.
const maxErrorBodyBytes = 64 << 10

// ErrNoAccount is returned when no account id is configured.
var ErrNoAccount = errors.New("upstream account id is not configured")

// Request is one inference call. Body is the JSON payload forwarded as is.
type Request struct {
	Model  string
	Body   []byte
	Stream bool
}

// Response wraps a successful upstream response. Body is already decoded
// from any Content-Encoding and must be closed by the caller.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

func (e *StatusError) Error() string {
	return codec.FormatUpstreamErrorWithHeaders(e.StatusCode, e.Body, e.Header)
}

// Client calls the inference provider's run endpoint.
type Client struct {
	BaseURL   string
	AccountID string
	HTTP      *http.Client
	Verbose   bool
	Debug     bool
	// DumpTo receives debug dumps; nil means stderr.
	DumpTo io.Writer

	dumpMu sync.Mutex
}

// NewClient builds a client authenticating with the configured API token.
func NewClient(cfg *config.ServerConfig) *Client {
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = upstreamHTTPTimeout
	}
	transport := http.DefaultTransport
	if token := strings.TrimSpace(cfg.APIToken); token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   http.DefaultTransport,
		}
	}
	return &Client{
		BaseURL:   strings.TrimRight(cfg.UpstreamURL, "/"),
		AccountID: strings.TrimSpace(cfg.AccountID),
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		Verbose:   cfg.Verbose,
		Debug:     cfg.Debug,
	}
}

// URL returns the run endpoint for model. Model path segments are kept
// unescaped because provider model ids contain slashes.
func (c *Client) URL(model string) string {
	segments := strings.Split(strings.TrimLeft(model, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return c.BaseURL + "/accounts/" + url.PathEscape(c.AccountID) + "/ai/run/" + strings.Join(segments, "/")
}

// Do posts the request and returns the decoded response body. Non-2xx
// statuses are returned as *StatusError. There are no retries.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.AccountID == "" {
		return nil, ErrNoAccount
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(req.Model), bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	httpReq.Header.Set("User-Agent", config.UserAgent())
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	if c.Verbose {
		slog.Info("upstream.request", "model", req.Model, "stream", req.Stream, "body_bytes", len(req.Body))
	}
	c.dumpUpstreamRequest(httpReq, req.Body)

	start := time.Now()
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if c.Verbose {
		attrs := []any{"status", resp.StatusCode, "elapsed", time.Since(start)}
		if id := codec.UpstreamRequestID(resp.Header); id != "" {
			attrs = append(attrs, "request_id", id)
		}
		slog.Info("upstream.response", attrs...)
	}

	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	resp.Body = body
	c.dumpUpstreamResponse(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: raw, Header: resp.Header}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func (c *Client) dumpWriter() io.Writer {
	if c.DumpTo != nil {
		return c.DumpTo
	}
	return os.Stderr
}
