// Package openai implements the provider.Chatter/StreamChatter/Embedder/
// Moderator capabilities against OpenAI's chat completions, embeddings, and
// moderations wire protocols. fireworks and together both speak an
// OpenAI-compatible protocol and reuse this package's request builder with
// a different base URL.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider implements provider.Chatter and provider.StreamChatter for
// OpenAI's /chat/completions endpoint. HTTPClient is swappable so callers
// can inject retry/telemetry-wrapped transports.
type Provider struct {
	provider.Sealed

	HTTPClient *http.Client
}

func New() *Provider {
	return &Provider{HTTPClient: http.DefaultClient}
}

var _ provider.Chatter = (*Provider)(nil)
var _ provider.StreamChatter = (*Provider)(nil)
var _ provider.ResponseParser = (*Provider)(nil)
var _ provider.Embedder = (*Provider)(nil)
var _ provider.Moderator = (*Provider)(nil)

func baseURL(cfg provider.Config) string {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/")
	}

	return defaultBaseURL
}

// BuildRequestBody renders the unified request into OpenAI's chat
// completions JSON body using sjson rather than a struct literal, so that
// unknown/dynamic params (req.Params) pass through untouched. Exported so
// sibling vendor packages (sagemaker) that compose this package's parser can
// also reuse its request builder.
func BuildRequestBody(req *gwtypes.Request, cfg provider.Config, stream bool) ([]byte, error) {
	body := []byte(`{}`)

	var err error

	body, err = sjson.SetBytes(body, "model", cfg.ModelName)
	if err != nil {
		return nil, err
	}

	messages := make([]map[string]any, 0, len(req.Input.Messages))

	for _, m := range req.Input.Messages {
		var text strings.Builder

		for _, c := range m.Content {
			switch c.Type {
			case gwtypes.ContentText:
				text.WriteString(c.Text)
			case gwtypes.ContentRawText:
				text.WriteString(c.RawValue)
			}
		}

		messages = append(messages, map[string]any{"role": string(m.Role), "content": text.String()})
	}

	if req.Input.System != nil {
		messages = append([]map[string]any{{"role": "system", "content": req.Input.System}}, messages...)
	}

	body, err = sjson.SetBytes(body, "messages", messages)
	if err != nil {
		return nil, err
	}

	for k, v := range req.Params {
		body, err = sjson.SetBytes(body, k, v)
		if err != nil {
			return nil, err
		}
	}

	if stream {
		body, err = sjson.SetBytes(body, "stream", true)
		if err != nil {
			return nil, err
		}
	}

	return body, nil
}

func authHeader(creds provider.Credentials) (string, error) {
	if creds.APIKey == "" {
		return "", &gwerrors.Error{Kind: gwerrors.KindAPIKeyMissing, Message: "openai: missing api key credential"}
	}

	return "Bearer " + creds.APIKey, nil
}

func (p *Provider) Infer(ctx context.Context, req *gwtypes.Request, cfg provider.Config, creds provider.Credentials) (*gwtypes.ModelInferenceResponse, error) {
	body, err := BuildRequestBody(req, cfg, false)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindSerialization, err, "openai: build request body")
	}

	auth, err := authHeader(creds)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(cfg)+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "openai: build http request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", auth)

	start := time.Now()

	httpResp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &gwerrors.Error{Kind: gwerrors.KindInferenceClient, Message: err.Error(), Retryable: true, Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInferenceClient, err, "openai: read response body")
	}

	latency := time.Since(start)

	if httpResp.StatusCode >= 400 {
		return nil, gwerrors.ClassifyProviderStatus(httpResp.StatusCode, string(respBody))
	}

	return p.ParseResponse(string(body), string(respBody), latency)
}

// ParseResponse decodes an OpenAI-shaped chat completions response. This is
// also invoked directly by the sagemaker package when a SageMaker endpoint
// hosts a container that speaks OpenAI's wire protocol (spec.md §4.B).
func (p *Provider) ParseResponse(rawRequest, rawResponse string, latency time.Duration) (*gwtypes.ModelInferenceResponse, error) {
	parsed := gjson.Parse(rawResponse)

	content := parsed.Get("choices.0.message.content").String()
	toolCalls := parsed.Get("choices.0.message.tool_calls")
	finishReason := parsed.Get("choices.0.finish_reason").String()

	var output []gwtypes.ContentBlockOutput

	if content != "" {
		output = append(output, gwtypes.ContentBlockOutput{Type: gwtypes.ContentText, Text: content})
	}

	toolCalls.ForEach(func(_, tc gjson.Result) bool {
		output = append(output, gwtypes.ContentBlockOutput{
			Type:        gwtypes.ContentToolCall,
			ToolCallID:  tc.Get("id").String(),
			ToolName:    tc.Get("function.name").String(),
			ToolRawArgs: tc.Get("function.arguments").String(),
		})

		return true
	})

	resp := &gwtypes.ModelInferenceResponse{
		ID:           gwtypes.NewID(),
		ProviderType: string(provider.TypeOpenAI),
		RawRequest:   rawRequest,
		RawResponse:  rawResponse,
		Output:       output,
		Usage: gwtypes.Usage{
			InputTokens:  parsed.Get("usage.prompt_tokens").Int(),
			OutputTokens: parsed.Get("usage.completion_tokens").Int(),
		},
		LatencyMS:    latency.Milliseconds(),
		FinishReason: mapFinishReason(finishReason),
	}

	return resp, nil
}

// Embed implements provider.Embedder against OpenAI's /embeddings endpoint.
// Each vector is placed by its "index" field rather than by its position in
// the data array, so vectors[i] always corresponds to texts[i].
func (p *Provider) Embed(ctx context.Context, texts []string, cfg provider.Config, creds provider.Credentials) ([][]float32, gwtypes.Usage, error) {
	body := []byte(`{}`)

	var err error

	body, err = sjson.SetBytes(body, "model", cfg.ModelName)
	if err != nil {
		return nil, gwtypes.Usage{}, gwerrors.Wrap(gwerrors.KindSerialization, err, "openai: build embeddings request body")
	}

	body, err = sjson.SetBytes(body, "input", texts)
	if err != nil {
		return nil, gwtypes.Usage{}, gwerrors.Wrap(gwerrors.KindSerialization, err, "openai: build embeddings request body")
	}

	auth, err := authHeader(creds)
	if err != nil {
		return nil, gwtypes.Usage{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(cfg)+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, gwtypes.Usage{}, gwerrors.Wrap(gwerrors.KindInternalError, err, "openai: build http request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", auth)

	httpResp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, gwtypes.Usage{}, &gwerrors.Error{Kind: gwerrors.KindInferenceClient, Message: err.Error(), Retryable: true, Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gwtypes.Usage{}, gwerrors.Wrap(gwerrors.KindInferenceClient, err, "openai: read response body")
	}

	if httpResp.StatusCode >= 400 {
		return nil, gwtypes.Usage{}, gwerrors.ClassifyProviderStatus(httpResp.StatusCode, string(respBody))
	}

	parsed := gjson.ParseBytes(respBody)

	vectors := make([][]float32, len(texts))

	parsed.Get("data").ForEach(func(_, item gjson.Result) bool {
		idx := int(item.Get("index").Int())
		if idx < 0 || idx >= len(vectors) {
			return true
		}

		values := item.Get("embedding").Array()
		vec := make([]float32, len(values))

		for i, v := range values {
			vec[i] = float32(v.Float())
		}

		vectors[idx] = vec

		return true
	})

	usage := gwtypes.Usage{
		InputTokens:  parsed.Get("usage.prompt_tokens").Int(),
		OutputTokens: parsed.Get("usage.total_tokens").Int() - parsed.Get("usage.prompt_tokens").Int(),
	}

	return vectors, usage, nil
}

// Moderate implements provider.Moderator against OpenAI's /moderations
// endpoint. cfg.ModelName may be empty: OpenAI defaults to its current
// moderation model when "model" is omitted from the request body.
func (p *Provider) Moderate(ctx context.Context, texts []string, cfg provider.Config, creds provider.Credentials) ([]provider.ModerationResult, error) {
	body := []byte(`{}`)

	var err error

	body, err = sjson.SetBytes(body, "input", texts)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindSerialization, err, "openai: build moderations request body")
	}

	if cfg.ModelName != "" {
		body, err = sjson.SetBytes(body, "model", cfg.ModelName)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindSerialization, err, "openai: build moderations request body")
		}
	}

	auth, err := authHeader(creds)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(cfg)+"/moderations", bytes.NewReader(body))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "openai: build http request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", auth)

	httpResp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &gwerrors.Error{Kind: gwerrors.KindInferenceClient, Message: err.Error(), Retryable: true, Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInferenceClient, err, "openai: read response body")
	}

	if httpResp.StatusCode >= 400 {
		return nil, gwerrors.ClassifyProviderStatus(httpResp.StatusCode, string(respBody))
	}

	parsed := gjson.ParseBytes(respBody)

	var out []provider.ModerationResult

	parsed.Get("results").ForEach(func(_, item gjson.Result) bool {
		res := provider.ModerationResult{
			Flagged:    item.Get("flagged").Bool(),
			Categories: map[string]bool{},
			Scores:     map[string]float64{},
		}

		item.Get("categories").ForEach(func(cat, flagged gjson.Result) bool {
			res.Categories[cat.String()] = flagged.Bool()
			return true
		})

		item.Get("category_scores").ForEach(func(cat, score gjson.Result) bool {
			res.Scores[cat.String()] = score.Float()
			return true
		})

		out = append(out, res)

		return true
	})

	return out, nil
}

func mapFinishReason(s string) gwtypes.FinishReason {
	switch s {
	case "stop":
		return gwtypes.FinishStop
	case "length":
		return gwtypes.FinishLength
	case "tool_calls", "function_call":
		return gwtypes.FinishToolCall
	case "content_filter":
		return gwtypes.FinishContentFilter
	default:
		return gwtypes.FinishUnknown
	}
}

// sseChunkStream parses an OpenAI-shaped `data: {...}\n\n` SSE body,
// terminating on the `data: [DONE]` sentinel (spec.md §4.B: "terminates
// normally on a vendor-specific sentinel").
type sseChunkStream struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
	err     error
}

func (s *sseChunkStream) Next(ctx context.Context) (provider.StreamChunk, bool) {
	for s.scanner.Scan() {
		line := s.scanner.Text()

		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		if data == "[DONE]" {
			return provider.StreamChunk{Done: true}, true
		}

		return provider.StreamChunk{RawData: []byte(data)}, true
	}

	if err := s.scanner.Err(); err != nil {
		s.err = err
	}

	return provider.StreamChunk{}, false
}

func (s *sseChunkStream) Err() error   { return s.err }
func (s *sseChunkStream) Close() error { return s.body.Close() }

func (p *Provider) InferStream(ctx context.Context, req *gwtypes.Request, cfg provider.Config, creds provider.Credentials) (provider.ChunkStream, string, error) {
	body, err := BuildRequestBody(req, cfg, true)
	if err != nil {
		return nil, "", gwerrors.Wrap(gwerrors.KindSerialization, err, "openai: build stream request body")
	}

	auth, err := authHeader(creds)
	if err != nil {
		return nil, "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(cfg)+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, "", gwerrors.Wrap(gwerrors.KindInternalError, err, "openai: build stream http request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", auth)

	httpResp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, "", &gwerrors.Error{Kind: gwerrors.KindInferenceClient, Message: err.Error(), Retryable: true, Cause: err}
	}

	if httpResp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()

		return nil, "", gwerrors.ClassifyProviderStatus(httpResp.StatusCode, string(respBody))
	}

	return &sseChunkStream{scanner: bufio.NewScanner(httpResp.Body), body: httpResp.Body}, string(body), nil
}

// AccumulateStreamText collects the `delta.content` field of each chunk into
// the final Text block. Only this package's tests call it; the gateway's
// streaming path does not use it.
func AccumulateStreamText(chunks [][]byte) (string, error) {
	var sb strings.Builder

	for _, c := range chunks {
		delta := gjson.GetBytes(c, "choices.0.delta.content")
		if delta.Exists() {
			sb.WriteString(delta.String())
		}
	}

	return sb.String(), nil
}
