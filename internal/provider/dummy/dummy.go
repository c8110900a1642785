// Package dummy implements the deterministic, dependency-free provider used
// by every integration test fixture in this repository, continuing the
// teacher's llm/simulator role of backing tests without calling a real
// vendor.
package dummy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
)

// Behavior is selected by the Config.ModelName suffix, e.g.
// "dummy::good" / "dummy::error" / "dummy::slow" / "dummy::rate_limited".
type Behavior string

const (
	BehaviorGood        Behavior = "good"
	BehaviorError       Behavior = "error"        // non-retryable 400
	BehaviorServerError Behavior = "server_error" // retryable 500
	BehaviorRateLimited Behavior = "rate_limited" // retryable 429
	BehaviorSlow        Behavior = "slow"          // sleeps past any reasonable timeout
	BehaviorToolCall    Behavior = "tool_call"
)

func behaviorFromModelName(modelName string) Behavior {
	_, suffix, ok := strings.Cut(modelName, "::")
	if !ok {
		return BehaviorGood
	}

	return Behavior(suffix)
}

// Provider implements provider.Chatter and provider.StreamChatter.
type Provider struct {
	provider.Sealed
}

func New() *Provider { return &Provider{} }

var _ provider.Chatter = (*Provider)(nil)
var _ provider.StreamChatter = (*Provider)(nil)

func (p *Provider) Infer(ctx context.Context, req *gwtypes.Request, cfg provider.Config, creds provider.Credentials) (*gwtypes.ModelInferenceResponse, error) {
	behavior := behaviorFromModelName(cfg.ModelName)

	resp := &gwtypes.ModelInferenceResponse{
		ID:           gwtypes.NewID(),
		ModelName:    cfg.ModelName,
		ProviderName: "dummy",
		ProviderType: string(provider.TypeDummy),
		RawRequest:   fmt.Sprintf(`{"model":%q}`, cfg.ModelName),
		Usage:        gwtypes.Usage{InputTokens: 10, OutputTokens: 5},
	}

	switch behavior {
	case BehaviorError:
		resp.Errored = true
		resp.ErrorKind = string(gwerrors.KindInferenceClient)
		resp.ErrorMsg = "dummy: simulated non-retryable client error"

		return resp, &gwerrors.Error{Kind: gwerrors.KindInferenceClient, Message: resp.ErrorMsg, StatusCode: 400, Retryable: false}
	case BehaviorServerError:
		resp.Errored = true
		resp.ErrorKind = string(gwerrors.KindInferenceServer)
		resp.ErrorMsg = "dummy: simulated retryable server error"

		return resp, &gwerrors.Error{Kind: gwerrors.KindInferenceServer, Message: resp.ErrorMsg, StatusCode: 500, Retryable: true}
	case BehaviorRateLimited:
		resp.Errored = true
		resp.ErrorKind = string(gwerrors.KindInferenceServer)
		resp.ErrorMsg = "dummy: simulated rate limit"

		return resp, &gwerrors.Error{Kind: gwerrors.KindInferenceServer, Message: resp.ErrorMsg, StatusCode: 429, Retryable: true}
	case BehaviorSlow:
		select {
		case <-ctx.Done():
			resp.Errored = true
			return resp, ctx.Err()
		case <-time.After(24 * time.Hour):
		}
	case BehaviorToolCall:
		resp.Output = []gwtypes.ContentBlockOutput{{
			Type:        gwtypes.ContentToolCall,
			ToolCallID:  "dummy_call_1",
			ToolName:    "get_weather",
			ToolRawArgs: `{"city":"San Francisco"}`,
		}}
		resp.FinishReason = gwtypes.FinishToolCall
	default:
		resp.Output = []gwtypes.ContentBlockOutput{{Type: gwtypes.ContentText, Text: "Megumin is the best waifu."}}
		resp.FinishReason = gwtypes.FinishStop
	}

	resp.RawResponse = fmt.Sprintf(`{"text":%q}`, "Megumin is the best waifu.")
	resp.LatencyMS = 1

	return resp, nil
}

// chunkStream is a pre-materialized ChunkStream over canned chunks.
type chunkStream struct {
	chunks []provider.StreamChunk
	idx    int
	cur    provider.StreamChunk
	err    error
}

func (s *chunkStream) Next(ctx context.Context) (provider.StreamChunk, bool) {
	if s.idx >= len(s.chunks) {
		return provider.StreamChunk{}, false
	}

	select {
	case <-ctx.Done():
		s.err = ctx.Err()
		return provider.StreamChunk{}, false
	default:
	}

	s.cur = s.chunks[s.idx]
	s.idx++

	return s.cur, true
}

func (s *chunkStream) Err() error   { return s.err }
func (s *chunkStream) Close() error { return nil }

func (p *Provider) InferStream(ctx context.Context, req *gwtypes.Request, cfg provider.Config, creds provider.Credentials) (provider.ChunkStream, string, error) {
	behavior := behaviorFromModelName(cfg.ModelName)

	if behavior == BehaviorError {
		return nil, "", &gwerrors.Error{Kind: gwerrors.KindInferenceClient, Message: "dummy: simulated stream error", StatusCode: 400, Retryable: false}
	}

	words := strings.Fields("Megumin is the best waifu.")
	chunks := make([]provider.StreamChunk, 0, len(words)+1)

	for _, w := range words {
		chunks = append(chunks, provider.StreamChunk{RawData: []byte(fmt.Sprintf(`{"delta":%q}`, w+" "))})
	}

	chunks = append(chunks, provider.StreamChunk{Done: true})

	return &chunkStream{chunks: chunks}, fmt.Sprintf(`{"model":%q,"stream":true}`, cfg.ModelName), nil
}
