package upstream

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "br, zstd, gzip"

// decodeBody wraps resp.Body with a decoder for its Content-Encoding and
// clears the header so callers see plain bytes.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch enc {
	case "", "identity":
		return resp.Body, nil
	case "br":
		resp.Header.Del("Content-Encoding")
		return &decodedBody{Reader: brotli.NewReader(resp.Body), src: resp.Body}, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		resp.Header.Del("Content-Encoding")
		return &decodedBody{Reader: zr, src: resp.Body, close: zr.Close}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		resp.Header.Del("Content-Encoding")
		return &decodedBody{Reader: zr, src: resp.Body, close: func() error { zr.Close(); return nil }}, nil
	default:
		return nil, fmt.Errorf("unsupported upstream content encoding %q", enc)
	}
}

type decodedBody struct {
	io.Reader
	src   io.Closer
	close func() error
}

func (d *decodedBody) Close() error {
	if d.close != nil {
		d.close() //nolint:errcheck
	}
	return d.src.Close()
}
