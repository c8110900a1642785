package gwtypes

import "encoding/json"

// FinishReason mirrors the provider-agnostic finish reasons spec.md §4.F
// names.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCall      FinishReason = "tool_call"
	FinishContentFilter FinishReason = "content_filter"
	FinishUnknown       FinishReason = "unknown"
)

// Usage is token accounting for one model call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add returns the field-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// ModelInferenceResponse is one attempt record: exactly one per provider
// call, regardless of success. Every attempt produces one of these, which
// is attached to the eventual inference record for observability (spec.md
// §4.D).
type ModelInferenceResponse struct {
	ID ID `json:"id"`

	InferenceID ID `json:"inference_id"`

	ModelName    string `json:"model_name"`
	ProviderName string `json:"provider_name"`
	ProviderType string `json:"provider_type"`

	RawRequest  string `json:"raw_request"`
	RawResponse string `json:"raw_response,omitempty"`

	Output []ContentBlockOutput `json:"output,omitempty"`

	Usage Usage `json:"usage"`

	LatencyMS int64 `json:"latency_ms"`
	TTFTMS    *int64 `json:"ttft_ms,omitempty"`

	FinishReason FinishReason `json:"finish_reason,omitempty"`

	Errored   bool   `json:"errored"`
	ErrorKind string `json:"error_kind,omitempty"`
	ErrorMsg  string `json:"error_message,omitempty"`

	CreatedAt ID `json:"-"` // embeds timestamp via UUIDv7; alias of ID for ordering
}

// ChatOutput is the Chat-function result shape.
type ChatOutput struct {
	Content []ContentBlockOutput `json:"content"`
}

// JSONOutput is the Json-function result shape. Parsed is nil when the raw
// text could not be parsed as JSON, even after repair; Raw always carries the
// raw model text. Parsed is not validated against the output schema, and
// there is no separate failure flag: a nil Parsed is the only signal.
type JSONOutput struct {
	Parsed json.RawMessage `json:"parsed"`
	Raw    string          `json:"raw"`
}

// InferenceResult is the function-level outcome of one Process call: either
// a Chat result or a Json result, plus cross-cutting fields common to both.
type InferenceResult struct {
	InferenceID ID    `json:"inference_id"`
	EpisodeID   ID    `json:"episode_id"`
	VariantName string `json:"variant_name"`

	FunctionType FunctionType `json:"-"`

	Chat *ChatOutput `json:"-"`
	JSON *JSONOutput `json:"-"`

	Usage        Usage        `json:"usage"`
	FinishReason FinishReason `json:"finish_reason"`

	OriginalResponse string `json:"original_response,omitempty"`

	ModelInferences []ModelInferenceResponse `json:"-"`

	TotalLatencyMS int64  `json:"-"`
	TTFTMS         *int64 `json:"-"`
}

// MarshalHTTP renders the unary HTTP response body shape from spec.md §6.
func (r *InferenceResult) MarshalHTTP() map[string]any {
	body := map[string]any{
		"inference_id": r.InferenceID,
		"episode_id":   r.EpisodeID,
		"variant_name": r.VariantName,
		"usage":        r.Usage,
		"finish_reason": r.FinishReason,
	}

	if r.OriginalResponse != "" {
		body["original_response"] = r.OriginalResponse
	}

	switch r.FunctionType {
	case FunctionJSON:
		body["output"] = r.JSON
	default:
		if r.Chat != nil {
			body["content"] = r.Chat.Content
		}
	}

	return body
}
