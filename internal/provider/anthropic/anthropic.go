// Package anthropic implements provider.Chatter/StreamChatter against
// Anthropic's Messages API.
package anthropic

import (
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

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

type Provider struct {
	provider.Sealed

	HTTPClient *http.Client
}

func New() *Provider {
	return &Provider{HTTPClient: http.DefaultClient}
}

var _ provider.Chatter = (*Provider)(nil)

func baseURL(cfg provider.Config) string {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/")
	}

	return defaultBaseURL
}

func buildRequestBody(req *gwtypes.Request, cfg provider.Config) ([]byte, error) {
	body := []byte(`{"max_tokens":4096}`)

	var err error

	body, err = sjson.SetBytes(body, "model", cfg.ModelName)
	if err != nil {
		return nil, err
	}

	messages := make([]map[string]any, 0, len(req.Input.Messages))

	for _, m := range req.Input.Messages {
		var text strings.Builder

		for _, c := range m.Content {
			if c.Type == gwtypes.ContentText {
				text.WriteString(c.Text)
			}
		}

		messages = append(messages, map[string]any{"role": string(m.Role), "content": text.String()})
	}

	body, err = sjson.SetBytes(body, "messages", messages)
	if err != nil {
		return nil, err
	}

	if req.Input.System != nil {
		body, err = sjson.SetBytes(body, "system", req.Input.System)
		if err != nil {
			return nil, err
		}
	}

	for k, v := range req.Params {
		body, err = sjson.SetBytes(body, k, v)
		if err != nil {
			return nil, err
		}
	}

	return body, nil
}

func (p *Provider) Infer(ctx context.Context, req *gwtypes.Request, cfg provider.Config, creds provider.Credentials) (*gwtypes.ModelInferenceResponse, error) {
	if creds.APIKey == "" {
		return nil, &gwerrors.Error{Kind: gwerrors.KindAPIKeyMissing, Message: "anthropic: missing api key credential"}
	}

	body, err := buildRequestBody(req, cfg)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindSerialization, err, "anthropic: build request body")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(cfg)+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "anthropic: build http request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", creds.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()

	httpResp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &gwerrors.Error{Kind: gwerrors.KindInferenceClient, Message: err.Error(), Retryable: true, Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInferenceClient, err, "anthropic: read response body")
	}

	latency := time.Since(start)

	if httpResp.StatusCode >= 400 {
		return nil, gwerrors.ClassifyProviderStatus(httpResp.StatusCode, string(respBody))
	}

	return parseResponse(string(body), string(respBody), latency), nil
}

func parseResponse(rawRequest, rawResponse string, latency time.Duration) *gwtypes.ModelInferenceResponse {
	parsed := gjson.Parse(rawResponse)

	var output []gwtypes.ContentBlockOutput

	parsed.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			output = append(output, gwtypes.ContentBlockOutput{Type: gwtypes.ContentText, Text: block.Get("text").String()})
		case "tool_use":
			output = append(output, gwtypes.ContentBlockOutput{
				Type:        gwtypes.ContentToolCall,
				ToolCallID:  block.Get("id").String(),
				ToolName:    block.Get("name").String(),
				ToolRawArgs: block.Get("input").Raw,
			})
		case "thinking":
			output = append(output, gwtypes.ContentBlockOutput{Type: gwtypes.ContentThought, ThoughtText: block.Get("thinking").String()})
		}

		return true
	})

	return &gwtypes.ModelInferenceResponse{
		ID:           gwtypes.NewID(),
		ProviderType: string(provider.TypeAnthropic),
		RawRequest:   rawRequest,
		RawResponse:  rawResponse,
		Output:       output,
		Usage: gwtypes.Usage{
			InputTokens:  parsed.Get("usage.input_tokens").Int(),
			OutputTokens: parsed.Get("usage.output_tokens").Int(),
		},
		LatencyMS:    latency.Milliseconds(),
		FinishReason: mapStopReason(parsed.Get("stop_reason").String()),
	}
}

func mapStopReason(s string) gwtypes.FinishReason {
	switch s {
	case "end_turn", "stop_sequence":
		return gwtypes.FinishStop
	case "max_tokens":
		return gwtypes.FinishLength
	case "tool_use":
		return gwtypes.FinishToolCall
	default:
		return gwtypes.FinishUnknown
	}
}
