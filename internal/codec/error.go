package codec

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-aiforwarder/internal/types"
)

// maxErrorPreview bounds the raw body quoted when no message can be read.
const maxErrorPreview = 280

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteOpenAIError writes an OpenAI-format error response.
func WriteOpenAIError(w http.ResponseWriter, status int, message string) {
	slog.Error("request failed", "status", status, "error", message)
	WriteJSON(w, status, types.ErrorResponse{Error: types.ErrorDetail{Message: message}})
}

// FormatUpstreamError describes a failed upstream call for the client.
func FormatUpstreamError(statusCode int, rawBody []byte) string {
	status := fmt.Sprintf("%d", statusCode)
	if text := http.StatusText(statusCode); text != "" {
		status = fmt.Sprintf("%d %s", statusCode, text)
	}
	if msg := ExtractUpstreamErrorMessage(rawBody); msg != "" {
		return fmt.Sprintf("Upstream returned HTTP %s: %s", status, msg)
	}
	if preview := compactBodyPreview(rawBody, maxErrorPreview); preview != "" {
		return fmt.Sprintf("Upstream returned HTTP %s with unparsed body: %s", status, preview)
	}
	return fmt.Sprintf("Upstream returned HTTP %s with empty error body", status)
}

// FormatUpstreamErrorWithHeaders appends the upstream request id, if any.
func FormatUpstreamErrorWithHeaders(statusCode int, rawBody []byte, headers http.Header) string {
	msg := FormatUpstreamError(statusCode, rawBody)
	if reqID := UpstreamRequestID(headers); reqID != "" {
		return fmt.Sprintf("%s (request_id: %s)", msg, reqID)
	}
	return msg
}

// ExtractUpstreamErrorMessage reads the message from an upstream error body.
//
// The REST envelope {"errors":[{"code":7000,"message":"..."}],"success":false}
// yields "message (code 7000)" for every entry, joined with "; ". Bodies in
// the {"error":{"message":...}} or {"error":"..."} form are read as well.
func ExtractUpstreamErrorMessage(rawBody []byte) string {
	root := gjson.ParseBytes(rawBody)
	if !root.IsObject() {
		return ""
	}

	var msgs []string
	root.Get("errors").ForEach(func(_, e gjson.Result) bool {
		if e.Type == gjson.String {
			if s := strings.TrimSpace(e.String()); s != "" {
				msgs = append(msgs, s)
			}
			return true
		}
		msg := strings.TrimSpace(e.Get("message").String())
		if msg == "" {
			return true
		}
		if code := e.Get("code"); code.Exists() && code.Type != gjson.Null {
			msg = fmt.Sprintf("%s (code %s)", msg, code.String())
		}
		msgs = append(msgs, msg)
		return true
	})
	if len(msgs) > 0 {
		return strings.Join(msgs, "; ")
	}

	errVal := root.Get("error")
	switch {
	case errVal.Type == gjson.String:
		return strings.TrimSpace(errVal.String())
	case errVal.IsObject():
		if msg := strings.TrimSpace(errVal.Get("message").String()); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(root.Get("message").String())
}

// UpstreamRequestID returns the request identifier the provider attached to
// a response, preferring the edge ray id.
func UpstreamRequestID(headers http.Header) string {
	if headers == nil {
		return ""
	}
	for _, key := range []string{"cf-ray", "x-request-id", "request-id"} {
		if v := strings.TrimSpace(headers.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

func compactBodyPreview(rawBody []byte, maxLen int) string {
	clean := strings.Join(strings.Fields(string(rawBody)), " ")
	if len(clean) <= maxLen {
		return clean
	}
	return clean[:maxLen] + "..."
}
