package evaluator

import (
	"context"
	"encoding/json"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
)

// InferenceFunc is the second-inference hook LLMJudge dispatches through;
// callers wire this to internal/inference.Process so this package never has
// to import component F directly (it is, itself, a consumer of F).
type InferenceFunc func(ctx context.Context, req *gwtypes.Request) (*gwtypes.InferenceResult, error)

// judgePayload is the JSON document handed to the judge function as a
// single raw-text input block: the datapoint's own input, the candidate's
// output, and the optional reference output, letting the judge function's
// own template/prompt decide how to present the comparison.
type judgePayload struct {
	Input           gwtypes.ResolvedInput `json:"input"`
	Output          any                   `json:"output"`
	ReferenceOutput any                   `json:"reference_output,omitempty"`
}

// LLMJudge composes a second inference call against a configured judge
// function and reads back a float or boolean score. Grounded on spec.md
// §4.J: strips Unknown blocks before serializing, and rejects any input
// containing a File (image) block since no judge function configured this
// way can be assumed to support images.
type LLMJudge struct {
	JudgeFunction string
	OutputType    string // float | boolean
	Infer         InferenceFunc
}

func (j *LLMJudge) Evaluate(ctx context.Context, datapoint *gwtypes.Datapoint, result *gwtypes.InferenceResult) (*Score, error) {
	input, err := stripUnknownAndRejectImages(datapoint.Input)
	if err != nil {
		return nil, err
	}

	var output any

	var reference any

	switch {
	case result.Chat != nil:
		output = result.Chat.Content
		if datapoint.ReferenceChatOutput != nil {
			reference = datapoint.ReferenceChatOutput.Content
		}
	case result.JSON != nil:
		output = result.JSON.Parsed
		if len(datapoint.ReferenceJSONOutput) > 0 {
			reference = datapoint.ReferenceJSONOutput
		}
	default:
		return nil, gwerrors.New(gwerrors.KindInvalidRequest, "datapoint and inference response types do not match")
	}

	payload, err := json.Marshal(judgePayload{Input: input, Output: output, ReferenceOutput: reference})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "marshal judge payload")
	}

	req := &gwtypes.Request{
		FunctionName: j.JudgeFunction,
		DryRun:       false,
		Input: gwtypes.Input{
			Messages: []gwtypes.InputMessage{{
				Role:    gwtypes.RoleUser,
				Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentRawText, RawValue: string(payload)}},
			}},
		},
	}

	judged, err := j.Infer(ctx, req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInferenceServer, err, "llm judge call failed")
	}

	if judged.JSON == nil || len(judged.JSON.Parsed) == 0 {
		return nil, gwerrors.New(gwerrors.KindInferenceServer, "llm judge function %q did not return a parsed json output", j.JudgeFunction)
	}

	var parsed struct {
		Score json.RawMessage `json:"score"`
	}

	if err := json.Unmarshal(judged.JSON.Parsed, &parsed); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInferenceServer, err, "llm judge returned a non-conforming score")
	}

	var b bool
	if j.OutputType == "boolean" && json.Unmarshal(parsed.Score, &b) == nil {
		return &Score{IsBool: true, Bool: b}, nil
	}

	var n json.Number
	if err := json.Unmarshal(parsed.Score, &n); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInferenceServer, err, "llm judge score was neither boolean nor numeric")
	}

	switch j.OutputType {
	case "boolean":
		f, err := n.Float64()
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindInferenceServer, err, "llm judge boolean score was not numeric")
		}

		return &Score{IsBool: true, Bool: f != 0}, nil
	default:
		f, err := n.Float64()
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindInferenceServer, err, "llm judge float score was not numeric")
		}

		return &Score{Float: f}, nil
	}
}

// stripUnknownAndRejectImages drops Unknown content blocks (the judge
// function cannot be expected to understand provider-opaque passthrough
// blocks) and fails fast on any File block, since no judge model is assumed
// to accept images in this mode (spec.md §4.J).
func stripUnknownAndRejectImages(in gwtypes.ResolvedInput) (gwtypes.ResolvedInput, error) {
	out := gwtypes.ResolvedInput{System: in.System, Messages: make([]gwtypes.ResolvedInputMessage, 0, len(in.Messages))}

	for _, msg := range in.Messages {
		kept := make([]gwtypes.ResolvedInputMessageContent, 0, len(msg.Content))

		for _, block := range msg.Content {
			switch block.Type {
			case gwtypes.ContentFile:
				return gwtypes.ResolvedInput{}, gwerrors.New(gwerrors.KindInvalidRequest, "llm judge does not support image inputs")
			case gwtypes.ContentUnknown:
				continue
			default:
				kept = append(kept, block)
			}
		}

		out.Messages = append(out.Messages, gwtypes.ResolvedInputMessage{Role: msg.Role, Content: kept})
	}

	return out, nil
}
