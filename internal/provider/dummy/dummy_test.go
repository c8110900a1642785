package dummy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
)

func TestProvider_Infer_Good(t *testing.T) {
	p := New()

	resp, err := p.Infer(context.Background(), &gwtypes.Request{}, provider.Config{ModelName: "dummy::good"}, provider.Credentials{})
	require.NoError(t, err)
	require.False(t, resp.Errored)
	require.Equal(t, gwtypes.FinishStop, resp.FinishReason)
	require.Len(t, resp.Output, 1)
}

func TestProvider_Infer_DefaultsToGood(t *testing.T) {
	p := New()

	resp, err := p.Infer(context.Background(), &gwtypes.Request{}, provider.Config{ModelName: "my-model"}, provider.Credentials{})
	require.NoError(t, err)
	require.Equal(t, gwtypes.FinishStop, resp.FinishReason)
}

func TestProvider_Infer_Error(t *testing.T) {
	p := New()

	_, err := p.Infer(context.Background(), &gwtypes.Request{}, provider.Config{ModelName: "dummy::error"}, provider.Credentials{})
	require.Error(t, err)

	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	require.False(t, ge.Retryable)
	require.Equal(t, 400, ge.StatusCode)
}

func TestProvider_Infer_ServerErrorIsRetryable(t *testing.T) {
	p := New()

	_, err := p.Infer(context.Background(), &gwtypes.Request{}, provider.Config{ModelName: "dummy::server_error"}, provider.Credentials{})
	require.Error(t, err)
	require.True(t, gwerrors.IsRetryable(err))
}

func TestProvider_Infer_RateLimitedIsRetryable(t *testing.T) {
	p := New()

	_, err := p.Infer(context.Background(), &gwtypes.Request{}, provider.Config{ModelName: "dummy::rate_limited"}, provider.Credentials{})
	require.Error(t, err)
	require.True(t, gwerrors.IsRetryable(err))
	require.Equal(t, 429, err.(*gwerrors.Error).StatusCode)
}

func TestProvider_Infer_ToolCall(t *testing.T) {
	p := New()

	resp, err := p.Infer(context.Background(), &gwtypes.Request{}, provider.Config{ModelName: "dummy::tool_call"}, provider.Credentials{})
	require.NoError(t, err)
	require.Equal(t, gwtypes.FinishToolCall, resp.FinishReason)
	require.Equal(t, gwtypes.ContentToolCall, resp.Output[0].Type)
	require.Equal(t, "get_weather", resp.Output[0].ToolName)
}

func TestProvider_InferStream_Good(t *testing.T) {
	p := New()

	stream, rawReq, err := p.InferStream(context.Background(), &gwtypes.Request{}, provider.Config{ModelName: "dummy::good"}, provider.Credentials{})
	require.NoError(t, err)
	require.NotEmpty(t, rawReq)

	var chunks int

	for {
		chunk, ok := stream.Next(context.Background())
		if !ok {
			break
		}

		chunks++

		if chunk.Done {
			break
		}
	}

	require.Greater(t, chunks, 1)
	require.NoError(t, stream.Err())
}

func TestProvider_InferStream_Error(t *testing.T) {
	p := New()

	_, _, err := p.InferStream(context.Background(), &gwtypes.Request{}, provider.Config{ModelName: "dummy::error"}, provider.Credentials{})
	require.Error(t, err)
}
