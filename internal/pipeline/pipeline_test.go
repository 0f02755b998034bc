package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/n0madic/go-aiforwarder/internal/codec"
	"github.com/n0madic/go-aiforwarder/internal/config"
	"github.com/n0madic/go-aiforwarder/internal/metrics"
	"github.com/n0madic/go-aiforwarder/internal/models"
	"github.com/n0madic/go-aiforwarder/internal/sse"
	"github.com/n0madic/go-aiforwarder/internal/types"
	"github.com/n0madic/go-aiforwarder/internal/upstream"
)

type fakeUpstream struct {
	body   string
	err    error
	calls  int
	got    *upstream.Request
	header http.Header
}

func (f *fakeUpstream) Do(_ context.Context, req *upstream.Request) (*upstream.Response, error) {
	f.calls++
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &upstream.Response{
		StatusCode: http.StatusOK,
		Header:     f.header,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func newPipeline(up Doer) *Pipeline {
	cfg := config.Defaults()
	return &Pipeline{
		Config:   cfg,
		Upstream: up,
		Registry: models.NewRegistry(models.DefaultCatalog()),
		Metrics:  metrics.New("", nil),
	}
}

func execute(t *testing.T, p *Pipeline, format codec.Format, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	p.Execute(context.Background(), rec, &Request{Format: format, Body: []byte(body)})
	return rec
}

func TestExecuteChatNonStreaming(t *testing.T) {
	up := &fakeUpstream{body: `{"result":{"response":"Hi there","usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}},"success":true,"errors":[]}`}
	p := newPipeline(up)

	rec := execute(t, p, codec.FormatChatCompletions, `{"model":"gpt-oss","messages":[{"role":"user","content":"hello"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	require.NotNil(t, up.got)
	assert.Equal(t, "@cf/openai/gpt-oss-20b", up.got.Model)
	assert.False(t, up.got.Stream)
	assert.False(t, gjson.GetBytes(up.got.Body, "model").Exists())
	assert.Equal(t, "false", gjson.GetBytes(up.got.Body, "stream").Raw)

	var resp types.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "gpt-oss", resp.Model)
	require.Len(t, resp.Choices, 1)
	require.NotNil(t, resp.Choices[0].Message.Content)
	assert.Equal(t, "Hi there", *resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)

	reg := p.Metrics.Registry()
	n, err := testutil.GatherAndCount(reg, "aiforwarder_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExecuteDropsToolsForUnsupportedModel(t *testing.T) {
	up := &fakeUpstream{body: `{"response":"ok"}`}
	p := newPipeline(up)

	body := `{"model":"@cf/qwen/qwq-32b","messages":[{"role":"user","content":"x"}],"tools":[{"type":"function","function":{"name":"f"}}],"tool_choice":"auto"}`
	rec := execute(t, p, codec.FormatChatCompletions, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, gjson.GetBytes(up.got.Body, "tools").Exists())
	assert.False(t, gjson.GetBytes(up.got.Body, "tool_choice").Exists())

	body = strings.Replace(body, "@cf/qwen/qwq-32b", "gpt-oss-120b", 1)
	execute(t, p, codec.FormatChatCompletions, body)
	assert.Equal(t, "@cf/openai/gpt-oss-120b", up.got.Model)
	assert.True(t, gjson.GetBytes(up.got.Body, "tools").IsArray())
}

func TestExecuteDebugModelOverrides(t *testing.T) {
	up := &fakeUpstream{body: `{"response":"ok"}`}
	p := newPipeline(up)
	p.Config.DebugModel = "@cf/meta/llama-4-scout-17b-16e-instruct"

	rec := execute(t, p, codec.FormatChatCompletions, `{"model":"gpt-oss","messages":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "@cf/meta/llama-4-scout-17b-16e-instruct", up.got.Model)
	assert.Equal(t, "gpt-oss", gjson.Get(rec.Body.String(), "model").String())
}

func TestExecuteResponsesNonStreamingEchoesParams(t *testing.T) {
	up := &fakeUpstream{body: `{"output":[{"type":"message","content":[{"type":"output_text","text":"Done"}]}]}`}
	p := newPipeline(up)

	rec := execute(t, p, codec.FormatResponses, `{"model":"gpt-oss","input":"hi","instructions":"be brief","temperature":0.2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	out := gjson.Parse(rec.Body.String())
	assert.Equal(t, "response", out.Get("object").String())
	assert.Equal(t, "completed", out.Get("status").String())
	assert.Equal(t, "Done", out.Get("output.0.content.0.text").String())
	assert.InDelta(t, 0.2, out.Get("temperature").Float(), 1e-9)
	assert.Equal(t, "be brief", out.Get("instructions").String())
	assert.Equal(t, 1.0, out.Get("top_p").Float())
	assert.True(t, strings.HasPrefix(out.Get("id").String(), codec.PrefixResponse))
}

func TestExecuteChatStreaming(t *testing.T) {
	up := &fakeUpstream{body: "data: {\"response\":\"Hel\"}\n\ndata: {\"response\":\"lo\"}\n\ndata: [DONE]\n\n"}
	p := newPipeline(up)

	rec := execute(t, p, codec.FormatChatCompletions, `{"model":"gpt-oss","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, up.got.Stream)
	assert.Equal(t, "true", gjson.GetBytes(up.got.Body, "stream").Raw)

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "data: [DONE]\n\n"))

	var content strings.Builder
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "[DONE]" {
			continue
		}
		content.WriteString(gjson.Get(data, "choices.0.delta.content").String())
	}
	assert.Equal(t, "Hello", content.String())
}

func TestExecuteResponsesStreaming(t *testing.T) {
	up := &fakeUpstream{body: "data: {\"response\":\"ok\"}\n\ndata: [DONE]\n\n"}
	p := newPipeline(up)

	rec := execute(t, p, codec.FormatResponses, `{"model":"gpt-oss","stream":true,"input":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event: response.created\n")
	assert.Contains(t, body, "event: response.output_text.delta\n")
	assert.Contains(t, body, "event: response.completed\n")
}

func TestExecuteErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     string
		wantCode int
		wantMsg  string
	}{
		{
			name:     "invalid json",
			body:     `{"model":`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "Invalid JSON body",
		},
		{
			name:     "json array",
			body:     `[]`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "Invalid JSON body",
		},
		{
			name:     "upstream client error passes through",
			err:      &upstream.StatusError{StatusCode: http.StatusTooManyRequests, Body: []byte(`{"errors":[{"message":"slow down"}]}`)},
			wantCode: http.StatusTooManyRequests,
			wantMsg:  "slow down",
		},
		{
			name:     "upstream server error",
			err:      &upstream.StatusError{StatusCode: http.StatusInternalServerError, Body: []byte(`oops`)},
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "upstream auth error",
			err:      &upstream.StatusError{StatusCode: http.StatusUnauthorized},
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "no account",
			err:      upstream.ErrNoAccount,
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "transport failure",
			err:      errors.New("dial tcp: connection refused"),
			wantCode: http.StatusBadGateway,
			wantMsg:  "connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{err: tt.err}
			body := tt.body
			if body == "" {
				body = `{"model":"gpt-oss","messages":[]}`
			}
			rec := execute(t, newPipeline(up), codec.FormatChatCompletions, body)
			assert.Equal(t, tt.wantCode, rec.Code)
			msg := gjson.Get(rec.Body.String(), "error.message").String()
			assert.NotEmpty(t, msg)
			if tt.wantMsg != "" {
				assert.Contains(t, msg, tt.wantMsg)
			}
		})
	}
}

func TestExecuteInvalidJSONSkipsUpstream(t *testing.T) {
	up := &fakeUpstream{}
	execute(t, newPipeline(up), codec.FormatChatCompletions, `not json`)
	assert.Zero(t, up.calls)
}

func TestBuildNonStreamingEnvelope(t *testing.T) {
	p := newPipeline(nil)

	t.Run("unrecognized shape yields a space", func(t *testing.T) {
		env := p.BuildNonStreamingEnvelope([]byte(`{"weird":true}`), "gpt-oss", codec.FormatChatCompletions, nil)
		chat, ok := env.(*types.ChatCompletionResponse)
		require.True(t, ok)
		require.NotNil(t, chat.Choices[0].Message.Content)
		assert.Equal(t, " ", *chat.Choices[0].Message.Content)

		reg := p.Metrics.Registry()
		n, err := testutil.GatherAndCount(reg, "aiforwarder_upstream_shapes_total")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("rest result envelope is unwrapped", func(t *testing.T) {
		raw := []byte(`{"result":{"response":"hi","usage":{"prompt_tokens":2,"completion_tokens":1}},"success":true,"errors":[],"messages":[]}`)
		env := p.BuildNonStreamingEnvelope(raw, "gpt-oss", codec.FormatChatCompletions, nil)
		chat := env.(*types.ChatCompletionResponse)
		require.NotNil(t, chat.Choices[0].Message.Content)
		assert.Equal(t, "hi", *chat.Choices[0].Message.Content)
		assert.Equal(t, 3, chat.Usage.TotalTokens)
	})

	t.Run("reasoning follows the resolved model", func(t *testing.T) {
		raw := []byte(`{"choices":[{"message":{"content":"4","reasoning_content":"2+2"}}]}`)
		env := p.BuildNonStreamingEnvelope(raw, "qwq", codec.FormatChatCompletions, nil)
		chat := env.(*types.ChatCompletionResponse)
		assert.Equal(t, "qwq", chat.Model)
		assert.Equal(t, "2+2", chat.Choices[0].Message.ReasoningContent)

		env = p.BuildNonStreamingEnvelope(raw, "llama-3.3", codec.FormatChatCompletions, nil)
		assert.Empty(t, env.(*types.ChatCompletionResponse).Choices[0].Message.ReasoningContent)
	})

	t.Run("tool calls in structured envelope", func(t *testing.T) {
		raw := []byte(`{"choices":[{"message":{"content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"q\":1}"}}]}}]}`)
		env := p.BuildNonStreamingEnvelope(raw, "gpt-oss", codec.FormatResponses, nil)
		resp, ok := env.(*types.ResponsesResponse)
		require.True(t, ok)
		require.Len(t, resp.Output, 1)
		assert.Equal(t, "function_call", resp.Output[0].Type)
		assert.Equal(t, "call_1", resp.Output[0].CallID)
		assert.Equal(t, "lookup", resp.Output[0].Name)
		assert.JSONEq(t, `{"q":1}`, resp.Output[0].Arguments)
	})
}

func TestTranscodeStream(t *testing.T) {
	p := newPipeline(nil)
	up := strings.NewReader("data: {\"response\":\"a\"}\n\ndata: {\"response\":\"b\"}\n\n")

	rc := p.TranscodeStream(up, "gpt-oss", codec.FormatChatCompletions, sse.Options{})
	defer rc.Close()
	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(out, []byte("data: [DONE]\n\n")))
	assert.Contains(t, string(out), `"content":"a"`)
	assert.Contains(t, string(out), `"content":"b"`)
}

func TestTranscodeStreamEarlyClose(t *testing.T) {
	p := newPipeline(nil)
	pr, pw := io.Pipe()
	defer pw.Close()

	rc := p.TranscodeStream(pr, "gpt-oss", codec.FormatResponses, sse.Options{})
	buf := make([]byte, 16)
	_, err := rc.Read(buf)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	_, err = rc.Read(buf)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
