package codec

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestExtractUpstreamErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"rest envelope with code", `{"errors":[{"code":5007,"message":"No such model"}],"success":false,"result":null}`, "No such model (code 5007)"},
		{"rest envelope several errors", `{"errors":[{"code":7000,"message":"bad route"},{"message":"retry later"}],"success":false}`, "bad route (code 7000); retry later"},
		{"rest envelope string errors", `{"errors":["quota exceeded"],"success":false}`, "quota exceeded"},
		{"empty errors fall back to error object", `{"errors":[],"error":{"message":"boom"}}`, "boom"},
		{"error string", `{"error":"  denied "}`, "denied"},
		{"top-level message", `{"message":"oops"}`, "oops"},
		{"no message", `{"success":false}`, ""},
		{"not json", `upstream timeout`, ""},
		{"empty", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractUpstreamErrorMessage([]byte(tt.body)))
		})
	}
}

func TestFormatUpstreamError(t *testing.T) {
	body := []byte(`{"errors":[{"code":3036,"message":"Account limit exceeded"}],"success":false}`)
	assert.Equal(t, "Upstream returned HTTP 429 Too Many Requests: Account limit exceeded (code 3036)", FormatUpstreamError(http.StatusTooManyRequests, body))

	assert.Equal(t, "Upstream returned HTTP 502 Bad Gateway with unparsed body: <html> gateway </html>", FormatUpstreamError(http.StatusBadGateway, []byte("<html>\n gateway\n</html>")))
	assert.Equal(t, "Upstream returned HTTP 500 Internal Server Error with empty error body", FormatUpstreamError(http.StatusInternalServerError, nil))

	long := strings.Repeat("x", maxErrorPreview+10)
	assert.True(t, strings.HasSuffix(FormatUpstreamError(http.StatusBadGateway, []byte(long)), "..."))
}

func TestFormatUpstreamErrorWithHeadersPrefersRayID(t *testing.T) {
	h := http.Header{}
	h.Set("x-request-id", "req-1")
	h.Set("cf-ray", "8a1b2c3d4e5f-SJC")
	msg := FormatUpstreamErrorWithHeaders(http.StatusBadRequest, []byte(`{"errors":[{"code":1,"message":"bad"}]}`), h)
	assert.Equal(t, "Upstream returned HTTP 400 Bad Request: bad (code 1) (request_id: 8a1b2c3d4e5f-SJC)", msg)

	h.Del("cf-ray")
	assert.Equal(t, "req-1", UpstreamRequestID(h))
	assert.Empty(t, UpstreamRequestID(nil))
	assert.NotContains(t, FormatUpstreamErrorWithHeaders(http.StatusBadRequest, nil, nil), "request_id")
}

func TestWriteOpenAIError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteOpenAIError(rec, http.StatusBadGateway, "upstream down")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "upstream down", gjson.Get(rec.Body.String(), "error.message").String())
}
