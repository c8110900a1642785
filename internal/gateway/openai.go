// The OpenAI-compatibility surface (spec.md §6): /openai/v1/chat/completions,
// /openai/v1/embeddings, /openai/v1/moderations. Each translates an
// OpenAI-shaped wire body into this gateway's unified request/response model
// and back, using tidwall/gjson+sjson the same way internal/provider/openai
// does for the vendor-facing side of the same protocol, rather than a second
// set of marshaling structs.
package gateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/inference"
	"github.com/tensorzero/gateway/internal/log"
	"github.com/tensorzero/gateway/internal/provider"
)

const (
	tensorzeroFunctionNamePrefix       = "tensorzero::function_name::"
	tensorzeroModelNamePrefix          = "tensorzero::model_name::"
	tensorzeroEmbeddingModelNamePrefix = "tensorzero::embedding_model_name::"
	tensorzeroDeprecatedFunctionPrefix = "tensorzero::"
)

// resolvedModel is what the "model" field on an OpenAI-compatible request
// resolves to: either a function name (variant selection still applies) or
// a model name (direct-model dispatch, bypassing variant selection).
type resolvedModel struct {
	functionName string
	modelName    string
}

// resolveOpenAIModel implements model_resolution.rs's prefix grammar, minus
// the authenticated/endpoint-id indirection (that concept belongs to
// axonhub's multi-tenant channel system and has no component here): a
// literal model string resolves straight through as a model name.
func resolveOpenAIModel(ctx context.Context, model string, forEmbedding bool) resolvedModel {
	if fn, ok := strings.CutPrefix(model, tensorzeroFunctionNamePrefix); ok {
		return resolvedModel{functionName: fn}
	}

	if m, ok := strings.CutPrefix(model, tensorzeroModelNamePrefix); ok {
		return resolvedModel{modelName: m}
	}

	if forEmbedding {
		if m, ok := strings.CutPrefix(model, tensorzeroEmbeddingModelNamePrefix); ok {
			return resolvedModel{modelName: m}
		}
	}

	if fn, ok := strings.CutPrefix(model, tensorzeroDeprecatedFunctionPrefix); ok {
		log.Warn(ctx, `deprecated model prefix: set "model" to "tensorzero::function_name::<fn>" instead of "tensorzero::<fn>"; the latter will be removed in a future release`,
			log.String("function_name", fn))

		return resolvedModel{functionName: fn}
	}

	return resolvedModel{modelName: model}
}

// openAIChatCompletions implements GET/POST /openai/v1/chat/completions: a
// direct-model request (spec.md §4.C "For a request targeting a model
// directly... step 1 is skipped") framed in OpenAI's own wire shape rather
// than this gateway's native request body.
func (h *handlers) openAIChatCompletions(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "read request body"))
		return
	}

	parsed := gjson.ParseBytes(raw)

	ctx, cancel := contextWithTimeout(c, h.timeout)
	defer cancel()

	resolved := resolveOpenAIModel(ctx, parsed.Get("model").String(), false)

	req := &gwtypes.Request{
		FunctionName: resolved.functionName,
		ModelName:    resolved.modelName,
		Stream:       parsed.Get("stream").Bool(),
		Input:        decodeOpenAIMessages(parsed.Get("messages")),
		Params:       make(map[string]any),
	}

	parsed.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case "model", "messages", "stream":
			return true
		}

		req.Params[key.String()] = value.Value()

		return true
	})

	if !req.Stream {
		result, err := inference.Process(ctx, h.infDeps, req)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, openAIChatCompletionBody(result))

		return
	}

	h.streamOpenAIChatCompletion(c, ctx, req)
}

// streamOpenAIChatCompletion re-frames the gateway's native provider chunks
// (already OpenAI-shaped for the openai/fireworks/together adapters) as SSE,
// matching the vendor protocol callers of this surface expect byte-for-byte.
func (h *handlers) streamOpenAIChatCompletion(c *gin.Context, ctx context.Context, req *gwtypes.Request) {
	stream, err := inference.ProcessStream(ctx, h.infDeps, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	defer stream.Tail.Close()

	clientGone := c.Writer.CloseNotify()

	emit := func(chunk provider.StreamChunk) {
		if chunk.Done {
			return
		}

		c.Writer.Write([]byte("data: "))
		c.Writer.Write(chunk.RawData)
		c.Writer.Write([]byte("\n\n"))
		c.Writer.Flush()
	}

	emit(stream.First)

	for {
		select {
		case <-clientGone:
			return
		case <-ctx.Done():
			return
		default:
		}

		chunk, ok := stream.Tail.Next(ctx)
		if !ok {
			break
		}

		emit(chunk)
	}

	c.Writer.Write([]byte("data: [DONE]\n\n"))
	c.Writer.Flush()
}

func decodeOpenAIMessages(messages gjson.Result) gwtypes.Input {
	var input gwtypes.Input

	messages.ForEach(func(_, m gjson.Result) bool {
		role := m.Get("role").String()
		content := m.Get("content").String()

		if role == "system" {
			input.System = content
			return true
		}

		gwRole := gwtypes.RoleUser
		if role == "assistant" {
			gwRole = gwtypes.RoleAssistant
		}

		input.Messages = append(input.Messages, gwtypes.InputMessage{
			Role:    gwRole,
			Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentText, Text: content}},
		})

		return true
	})

	return input
}

func openAIChatCompletionBody(result *gwtypes.InferenceResult) map[string]any {
	var content string

	var toolCalls []map[string]any

	if result.Chat != nil {
		for _, b := range result.Chat.Content {
			switch b.Type {
			case gwtypes.ContentText:
				content += b.Text
			case gwtypes.ContentToolCall:
				toolCalls = append(toolCalls, map[string]any{
					"id":   b.ToolCallID,
					"type": "function",
					"function": map[string]any{
						"name":      b.ToolName,
						"arguments": b.ToolRawArgs,
					},
				})
			}
		}
	} else if result.JSON != nil {
		content = result.JSON.Raw
	}

	message := map[string]any{"role": "assistant", "content": content}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	return map[string]any{
		"id":      result.InferenceID.String(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"choices": []map[string]any{{
			"index":         0,
			"message":       message,
			"finish_reason": result.FinishReason,
		}},
		"usage": map[string]any{
			"prompt_tokens":     result.Usage.InputTokens,
			"completion_tokens": result.Usage.OutputTokens,
			"total_tokens":      result.Usage.InputTokens + result.Usage.OutputTokens,
		},
	}
}

// openAIEmbeddings implements POST /openai/v1/embeddings directly against
// component B's Embedder capability, bypassing the function/variant resolver
// entirely: embeddings have no prompt template or tool loop to resolve,
// just a model name to dispatch to (spec.md §4.B "embed(text, ...)").
func (h *handlers) openAIEmbeddings(c *gin.Context) {
	var body struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}

	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid request body"))
		return
	}

	ctx, cancel := contextWithTimeout(c, h.timeout)
	defer cancel()

	resolved := resolveOpenAIModel(ctx, body.Model, true)
	if resolved.functionName != "" {
		writeError(c, gwerrors.New(gwerrors.KindInvalidRequest, "embeddings have no function concept: %q resolves to a function, not a model", body.Model))
		return
	}

	model, err := h.deps.Store.GetEmbeddingModel(resolved.modelName)
	if err != nil {
		writeError(c, err)
		return
	}

	if len(model.Providers) == 0 {
		writeError(c, gwerrors.New(gwerrors.KindUnknownModel, "embedding model %q has no configured providers", body.Model))
		return
	}

	p := model.Providers[0]

	adapter, ok := h.deps.Providers.Get(p.Type)
	if !ok || adapter.Embedder == nil {
		writeError(c, gwerrors.New(gwerrors.KindProviderNotFound, "no embedding-capable provider registered for %q", p.Type))
		return
	}

	creds := provider.Credentials{APIKey: resolveCredentialEnv(p.CredentialsRef, p.Type)}

	vectors, usage, err := adapter.Embed(ctx, body.Input, p.ProviderConfig(), creds)
	if err != nil {
		writeError(c, err)
		return
	}

	data := make([]map[string]any, 0, len(vectors))
	for i, v := range vectors {
		data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": v})
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
		"model":  body.Model,
		"usage": gin.H{
			"prompt_tokens": usage.InputTokens,
			"total_tokens":  usage.InputTokens + usage.OutputTokens,
		},
	})
}

// openAIModerations implements POST /openai/v1/moderations against
// component B's Moderator capability.
func (h *handlers) openAIModerations(c *gin.Context) {
	var body struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}

	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid request body"))
		return
	}

	ctx, cancel := contextWithTimeout(c, h.timeout)
	defer cancel()

	model, err := h.deps.Store.GetModel(body.Model)
	if err != nil {
		writeError(c, err)
		return
	}

	if len(model.Providers) == 0 {
		writeError(c, gwerrors.New(gwerrors.KindUnknownModel, "model %q has no configured providers", body.Model))
		return
	}

	p := model.Providers[0]

	adapter, ok := h.deps.Providers.Get(p.Type)
	if !ok || adapter.Moderator == nil {
		writeError(c, gwerrors.New(gwerrors.KindProviderNotFound, "no moderation-capable provider registered for %q", p.Type))
		return
	}

	creds := provider.Credentials{APIKey: resolveCredentialEnv(p.CredentialsRef, p.Type)}

	results, err := adapter.Moderate(ctx, body.Input, p.ProviderConfig(), creds)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"flagged":         r.Flagged,
			"categories":      r.Categories,
			"category_scores": r.Scores,
		})
	}

	c.JSON(http.StatusOK, gin.H{"id": gwtypes.NewID().String(), "model": body.Model, "results": out})
}
