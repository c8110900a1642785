package gwtypes

import (
	"encoding/json"
	"fmt"
)

// Role is the speaker of an input message. Only user/assistant messages are
// accepted from callers; the system value is carried separately on Input.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlockType discriminates InputMessageContent/ContentBlockOutput
// variants.
type ContentBlockType string

const (
	ContentText     ContentBlockType = "text"
	ContentTemplate ContentBlockType = "template"
	ContentToolCall ContentBlockType = "tool_call"
	ContentToolResult ContentBlockType = "tool_result"
	ContentRawText  ContentBlockType = "raw_text"
	ContentThought  ContentBlockType = "thought"
	ContentFile     ContentBlockType = "file"
	ContentUnknown  ContentBlockType = "unknown"
)

// InputMessageContent is one block of a request-time input message. Exactly
// one of the typed fields is populated, selected by Type; this mirrors a
// tagged union using a flat struct plus discriminator, the shape every JSON
// wire message in this gateway uses (providers' own SDKs do the same).
type InputMessageContent struct {
	Type ContentBlockType `json:"type"`

	// Text: free-form text block.
	Text string `json:"text,omitempty"`

	// Template: named prompt template + its arguments.
	TemplateName string         `json:"name,omitempty"`
	Arguments    map[string]any `json:"arguments,omitempty"`

	// ToolCall.
	ToolCallID   string `json:"id,omitempty"`
	ToolName     string `json:"tool_name,omitempty"`
	ToolRawArgs  string `json:"raw_arguments,omitempty"`

	// ToolResult.
	ToolResultName string `json:"result_name,omitempty"`
	Result         string `json:"result,omitempty"`

	// RawText: provider-opaque text passed through untouched.
	RawValue string `json:"value,omitempty"`

	// Thought: a reasoning/thinking block, normally stripped before being
	// sent to providers/judges that don't support it.
	ThoughtText string `json:"thought_text,omitempty"`

	// File: either inline base64 bytes or a remote URL. Exactly one of
	// Data/URL is set on the request-time form.
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`

	// Unknown: passthrough for provider-specific block shapes this gateway
	// doesn't understand. Provider scopes which vendor it originated from,
	// when known.
	UnknownData any    `json:"data_unknown,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

// legacyTextValue is the pre-existing on-disk shape `{type:"text",
// value:<object>}` that older writers produced. New writers never emit it;
// readers silently reinterpret it as a template invocation named after the
// message's role (spec.md §9's documented open question, resolved as
// read-compatibility only).
type legacyTextValue struct {
	Type  ContentBlockType `json:"type"`
	Value map[string]any   `json:"value"`
}

// ReinterpretLegacyTextBlock rewrites a decoded `{type:"text", value:
// <object>}` block into a Template invocation named after role, if raw
// matches that legacy shape. It returns ok=false (block unchanged) for
// every other shape, including the modern `{type:"text", text:"..."}` form.
func ReinterpretLegacyTextBlock(raw json.RawMessage, role Role) (InputMessageContent, bool) {
	var legacy legacyTextValue
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return InputMessageContent{}, false
	}

	if legacy.Type != ContentText || legacy.Value == nil {
		return InputMessageContent{}, false
	}

	return InputMessageContent{
		Type:         ContentTemplate,
		TemplateName: string(role),
		Arguments:    legacy.Value,
	}, true
}

// DecodeInputMessageContent decodes one content block, applying the legacy
// reinterpretation above before falling back to the modern shape.
func DecodeInputMessageContent(raw json.RawMessage, role Role) (InputMessageContent, error) {
	if block, ok := ReinterpretLegacyTextBlock(raw, role); ok {
		return block, nil
	}

	var block InputMessageContent
	if err := json.Unmarshal(raw, &block); err != nil {
		return InputMessageContent{}, fmt.Errorf("decode content block: %w", err)
	}

	return block, nil
}

// InputMessage is one role-tagged turn of conversation.
type InputMessage struct {
	Role    Role                   `json:"role"`
	Content []InputMessageContent `json:"content"`
}

// Input is the full request-time input: an optional system value plus an
// ordered message list.
type Input struct {
	System   any            `json:"system,omitempty"`
	Messages []InputMessage `json:"messages"`
}

// ResolvedInputMessageContent is the "stored" form of a content block:
// structurally parallel to InputMessageContent, plus a StoragePath for a
// File block archived by component K. This is what gets persisted to the
// `input` column. The inference path does not archive files: it copies each
// block as-is, so StoragePath stays empty and File blocks keep their inline
// bytes or URL in the persisted form.
type ResolvedInputMessageContent struct {
	InputMessageContent

	// StoragePath replaces Data/URL once K has archived the file's bytes.
	StoragePath string `json:"storage_path,omitempty"`
}

// ResolvedInputMessage mirrors InputMessage with resolved content blocks.
type ResolvedInputMessage struct {
	Role    Role                           `json:"role"`
	Content []ResolvedInputMessageContent `json:"content"`
}

// ResolvedInput is the persisted form of Input.
type ResolvedInput struct {
	System   any                    `json:"system,omitempty"`
	Messages []ResolvedInputMessage `json:"messages"`
}

// ContentBlockOutput is one block of a model's Chat-function output.
type ContentBlockOutput struct {
	Type ContentBlockType `json:"type"`

	Text string `json:"text,omitempty"`

	ToolCallID  string `json:"id,omitempty"`
	ToolName    string `json:"name,omitempty"`
	ToolRawArgs string `json:"raw_arguments,omitempty"`

	ThoughtText string `json:"thought_text,omitempty"`

	UnknownData any    `json:"data,omitempty"`
	Provider    string `json:"provider,omitempty"`
}
