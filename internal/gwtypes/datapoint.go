package gwtypes

import (
	"encoding/json"
	"time"
)

// Datapoint is a stored evaluation-dataset row (component I/J).
type Datapoint struct {
	ID ID `json:"id"`

	DatasetName  string       `json:"dataset_name"`
	FunctionName string       `json:"function_name"`
	FunctionType FunctionType `json:"function_type"`

	Input ResolvedInput `json:"input"`

	// ReferenceChatOutput / ReferenceJSONOutput: at most one populated,
	// selected by FunctionType. Nil means "no reference output" (exact_match
	// and friends treat this as inapplicable, not a mismatch).
	ReferenceChatOutput *ChatOutput     `json:"reference_chat_output,omitempty"`
	ReferenceJSONOutput json.RawMessage `json:"reference_json_output,omitempty"`

	ToolParams   json.RawMessage `json:"tool_params,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`

	Tags map[string]string `json:"tags,omitempty"`

	StaledAt *time.Time `json:"staled_at,omitempty"`
}

// IsStaled reports whether the datapoint has been soft-deleted.
func (d *Datapoint) IsStaled() bool {
	return d.StaledAt != nil
}
