package openai

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
)

func TestBuildRequestBody_IncludesMessagesAndDynamicParams(t *testing.T) {
	req := &gwtypes.Request{
		Input: gwtypes.Input{
			System: "be terse",
			Messages: []gwtypes.InputMessage{
				{Role: gwtypes.RoleUser, Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentText, Text: "hi"}}},
			},
		},
		Params: map[string]any{"temperature": 0.2},
	}

	body, err := BuildRequestBody(req, provider.Config{ModelName: "gpt-4o-mini"}, false)
	require.NoError(t, err)
	require.Contains(t, string(body), `"gpt-4o-mini"`)
	require.Contains(t, string(body), `"temperature":0.2`)
	require.Contains(t, string(body), `"be terse"`)
}

func TestBuildRequestBody_StreamFlag(t *testing.T) {
	req := &gwtypes.Request{Input: gwtypes.Input{Messages: []gwtypes.InputMessage{{Role: gwtypes.RoleUser}}}}

	body, err := BuildRequestBody(req, provider.Config{ModelName: "gpt-4o-mini"}, true)
	require.NoError(t, err)
	require.Contains(t, string(body), `"stream":true`)
}

func TestParseResponse_TextAndUsage(t *testing.T) {
	p := New()

	raw := `{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`

	resp, err := p.ParseResponse(`{}`, raw, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, gwtypes.FinishStop, resp.FinishReason)
	require.Equal(t, "hello", resp.Output[0].Text)
	require.EqualValues(t, 3, resp.Usage.InputTokens)
}

func TestParseResponse_ToolCalls(t *testing.T) {
	p := New()

	raw := `{"choices":[{"message":{"tool_calls":[{"id":"call_1","function":{"name":"get_weather","arguments":"{}"}}]},"finish_reason":"tool_calls"}]}`

	resp, err := p.ParseResponse(`{}`, raw, 0)
	require.NoError(t, err)
	require.Equal(t, gwtypes.FinishToolCall, resp.FinishReason)
	require.Equal(t, gwtypes.ContentToolCall, resp.Output[0].Type)
	require.Equal(t, "get_weather", resp.Output[0].ToolName)
}

func TestInfer_ClassifiesRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	p := New()

	req := &gwtypes.Request{Input: gwtypes.Input{Messages: []gwtypes.InputMessage{{Role: gwtypes.RoleUser}}}}

	_, err := p.Infer(t.Context(), req, provider.Config{ModelName: "gpt-4o-mini", BaseURL: srv.URL}, provider.Credentials{APIKey: "k"})
	require.Error(t, err)
}

func TestInfer_MissingAPIKey(t *testing.T) {
	p := New()

	req := &gwtypes.Request{Input: gwtypes.Input{Messages: []gwtypes.InputMessage{{Role: gwtypes.RoleUser}}}}

	_, err := p.Infer(t.Context(), req, provider.Config{ModelName: "gpt-4o-mini"}, provider.Credentials{})
	require.Error(t, err)
}

func TestEmbed_OrdersVectorsByResponseIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0.3,0.4]},{"index":0,"embedding":[0.1,0.2]}],"usage":{"prompt_tokens":5,"total_tokens":5}}`))
	}))
	defer srv.Close()

	p := New()

	vectors, usage, err := p.Embed(t.Context(), []string{"a", "b"}, provider.Config{ModelName: "text-embedding-3-small", BaseURL: srv.URL}, provider.Credentials{APIKey: "k"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	require.Equal(t, []float32{0.1, 0.2}, vectors[0])
	require.Equal(t, []float32{0.3, 0.4}, vectors[1])
	require.EqualValues(t, 5, usage.InputTokens)
}

func TestEmbed_MissingAPIKey(t *testing.T) {
	p := New()

	_, _, err := p.Embed(t.Context(), []string{"a"}, provider.Config{ModelName: "text-embedding-3-small"}, provider.Credentials{})
	require.Error(t, err)
}

func TestModerate_ParsesCategoriesAndScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"flagged":true,"categories":{"violence":true,"hate":false},"category_scores":{"violence":0.9,"hate":0.01}}]}`))
	}))
	defer srv.Close()

	p := New()

	results, err := p.Moderate(t.Context(), []string{"threatening text"}, provider.Config{BaseURL: srv.URL}, provider.Credentials{APIKey: "k"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Flagged)
	require.True(t, results[0].Categories["violence"])
	require.False(t, results[0].Categories["hate"])
	require.InDelta(t, 0.9, results[0].Scores["violence"], 0.0001)
}

func TestAccumulateStreamText(t *testing.T) {
	chunks := [][]byte{
		[]byte(`{"choices":[{"delta":{"content":"hel"}}]}`),
		[]byte(`{"choices":[{"delta":{"content":"lo"}}]}`),
	}

	text, err := AccumulateStreamText(chunks)
	require.NoError(t, err)
	require.Equal(t, "hello", text)
}
