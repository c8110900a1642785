package anthropic

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
)

func TestBuildRequestBody_SystemAndParams(t *testing.T) {
	req := &gwtypes.Request{
		Input: gwtypes.Input{
			System: "be terse",
			Messages: []gwtypes.InputMessage{
				{Role: gwtypes.RoleUser, Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentText, Text: "hi"}}},
			},
		},
		Params: map[string]any{"temperature": 0.5},
	}

	body, err := buildRequestBody(req, provider.Config{ModelName: "claude-3-5-sonnet"})
	require.NoError(t, err)
	require.Contains(t, string(body), `"claude-3-5-sonnet"`)
	require.Contains(t, string(body), `"be terse"`)
	require.Contains(t, string(body), `"temperature":0.5`)
}

func TestParseResponse_TextToolUseAndThinking(t *testing.T) {
	raw := `{"content":[{"type":"text","text":"hi"},{"type":"tool_use","id":"t1","name":"get_weather","input":{"city":"SF"}},{"type":"thinking","thinking":"pondering"}],"stop_reason":"tool_use","usage":{"input_tokens":5,"output_tokens":2}}`

	resp := parseResponse(`{}`, raw, 5*time.Millisecond)
	require.Len(t, resp.Output, 3)
	require.Equal(t, gwtypes.ContentText, resp.Output[0].Type)
	require.Equal(t, gwtypes.ContentToolCall, resp.Output[1].Type)
	require.Equal(t, "get_weather", resp.Output[1].ToolName)
	require.Equal(t, gwtypes.ContentThought, resp.Output[2].Type)
	require.Equal(t, gwtypes.FinishToolCall, resp.FinishReason)
	require.EqualValues(t, 5, resp.Usage.InputTokens)
}

func TestMapStopReason(t *testing.T) {
	require.Equal(t, gwtypes.FinishStop, mapStopReason("end_turn"))
	require.Equal(t, gwtypes.FinishLength, mapStopReason("max_tokens"))
	require.Equal(t, gwtypes.FinishUnknown, mapStopReason("something_else"))
}

func TestInfer_MissingAPIKey(t *testing.T) {
	p := New()

	req := &gwtypes.Request{Input: gwtypes.Input{Messages: []gwtypes.InputMessage{{Role: gwtypes.RoleUser}}}}

	_, err := p.Infer(t.Context(), req, provider.Config{ModelName: "claude-3-5-sonnet"}, provider.Credentials{})
	require.Error(t, err)
}

func TestInfer_SendsVersionHeader(t *testing.T) {
	var gotVersion string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		w.Write([]byte(`{"content":[],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p := New()

	req := &gwtypes.Request{Input: gwtypes.Input{Messages: []gwtypes.InputMessage{{Role: gwtypes.RoleUser}}}}

	_, err := p.Infer(t.Context(), req, provider.Config{ModelName: "claude-3-5-sonnet", BaseURL: srv.URL}, provider.Credentials{APIKey: "k"})
	require.NoError(t, err)
	require.Equal(t, anthropicVersion, gotVersion)
}
