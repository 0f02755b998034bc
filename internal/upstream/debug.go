package upstream

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
)

func (c *Client) dumpUpstreamRequest(req *http.Request, body []byte) {
	if c == nil || !c.Debug || req == nil {
		return
	}
	clone := req.Clone(req.Context())
	clone.Header.Del("Authorization")
	headerDump, err := httputil.DumpRequestOut(clone, false)
	if err != nil {
		slog.Error("upstream.request.dump.failed", "error", err)
		return
	}
	c.writeDebugDumpBlock("UPSTREAM REQUEST", append(headerDump, body...))
}

// dumpUpstreamResponse writes the response headers and tees the body into
// the dump as the caller reads it.
func (c *Client) dumpUpstreamResponse(resp *http.Response) {
	if c == nil || !c.Debug || resp == nil {
		return
	}

	headerDump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		slog.Error("upstream.response.dump.failed", "error", err)
	} else {
		c.writeDebugDumpBlock("UPSTREAM RESPONSE", headerDump)
	}

	if resp.Body != nil {
		title := fmt.Sprintf("UPSTREAM RESPONSE BODY status=%d", resp.StatusCode)
		c.writeDebugDumpBoundary(title, true)
		resp.Body = &debugDumpReadCloser{src: resp.Body, client: c, title: title}
	}
}

func (c *Client) writeDebugDumpBlock(title string, data []byte) {
	c.writeDebugDumpBoundary(title, true)
	if len(data) > 0 {
		c.writeDebugDumpChunk(data)
		if data[len(data)-1] != '\n' {
			c.writeDebugDumpChunk([]byte("\n"))
		}
	}
	c.writeDebugDumpBoundary(title, false)
}

func (c *Client) writeDebugDumpBoundary(title string, begin bool) {
	kind := "END"
	if begin {
		kind = "BEGIN"
	}
	c.writeDebugDumpChunk([]byte("===== " + strings.TrimSpace(title) + " " + kind + " =====\n"))
}

func (c *Client) writeDebugDumpChunk(data []byte) {
	if c == nil || len(data) == 0 {
		return
	}
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()
	if _, err := c.dumpWriter().Write(data); err != nil {
		slog.Error("upstream.dump.write.failed", "error", err)
	}
}

type debugDumpReadCloser struct {
	src      io.ReadCloser
	client   *Client
	title    string
	closed   bool
	lastByte byte
	hasData  bool
}

func (d *debugDumpReadCloser) Read(p []byte) (int, error) {
	n, err := d.src.Read(p)
	if n > 0 {
		d.hasData = true
		d.lastByte = p[n-1]
		d.client.writeDebugDumpChunk(p[:n])
	}
	if err == io.EOF {
		d.finish()
	}
	return n, err
}

func (d *debugDumpReadCloser) Close() error {
	err := d.src.Close()
	d.finish()
	return err
}

func (d *debugDumpReadCloser) finish() {
	if d.closed {
		return
	}
	d.closed = true
	if d.hasData && d.lastByte != '\n' {
		d.client.writeDebugDumpChunk([]byte("\n"))
	}
	d.client.writeDebugDumpBoundary(d.title, false)
}
