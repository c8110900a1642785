package gwtypes

import "encoding/json"

// FunctionType discriminates the two function kinds.
type FunctionType string

const (
	FunctionChat FunctionType = "chat"
	FunctionJSON FunctionType = "json"
)

// ToolChoiceMode selects how a variant should use the available tools.
type ToolChoiceMode string

const (
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceSpecific ToolChoiceMode = "specific"
)

// ToolChoice is the tool-selection directive on a Request.
type ToolChoice struct {
	Mode          ToolChoiceMode `json:"mode"`
	SpecificTool  string         `json:"tool_name,omitempty"`
}

// Tool describes one callable tool.
type Tool struct {
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Parameters        json.RawMessage `json:"parameters"`
	Strict            bool            `json:"strict,omitempty"`
}

// CacheMode controls whether/how the cache (component E) participates in a
// request.
type CacheMode string

const (
	CacheOn        CacheMode = "on"
	CacheOff       CacheMode = "off"
	CacheReadOnly  CacheMode = "read_only"
	CacheWriteOnly CacheMode = "write_only"
)

// CacheOptions is the per-request cache directive.
type CacheOptions struct {
	Mode     CacheMode `json:"enabled,omitempty"`
	MaxAgeS  *int64    `json:"max_age_s,omitempty"`
}

func (c CacheOptions) mode() CacheMode {
	if c.Mode == "" {
		return CacheOn
	}

	return c.Mode
}

// ReadEnabled reports whether this request may read from the cache.
func (c CacheOptions) ReadEnabled() bool {
	m := c.mode()
	return m == CacheOn || m == CacheReadOnly
}

// WriteEnabled reports whether a successful result from this request may be
// written to the cache.
func (c CacheOptions) WriteEnabled() bool {
	m := c.mode()
	return m == CacheOn || m == CacheWriteOnly
}

// Request is the function-targeted inference request body (spec.md §6).
type Request struct {
	FunctionName string `json:"function_name,omitempty"`
	ModelName    string `json:"model_name,omitempty"` // OpenAI-compatible direct-model surface
	VariantName  string `json:"variant_name,omitempty"`
	EpisodeID    *ID    `json:"episode_id,omitempty"`

	Input Input `json:"input"`

	Params map[string]any `json:"params,omitempty"`

	Stream  bool `json:"stream,omitempty"`
	DryRun  bool `json:"dryrun,omitempty"`

	Tags map[string]string `json:"tags,omitempty"`

	ToolChoice         *ToolChoice     `json:"tool_choice,omitempty"`
	AdditionalTools    []Tool          `json:"additional_tools,omitempty"`
	ParallelToolCalls  *bool           `json:"parallel_tool_calls,omitempty"`
	OutputSchema       json.RawMessage `json:"output_schema,omitempty"`

	CacheOptions CacheOptions `json:"cache_options,omitempty"`

	Credentials map[string]string `json:"credentials,omitempty"`
}

// IsDirectModel reports whether this request targets a model directly
// (the OpenAI-compatibility surface), skipping function/variant resolution.
func (r *Request) IsDirectModel() bool {
	return r.ModelName != "" && r.FunctionName == ""
}
