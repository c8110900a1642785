// Package evaluator implements component J: the three scorer kinds spec.md
// §4.J names (exact_match, regex, llm_judge). Grounded on the original
// implementation's evaluators/exact_match.rs and evaluators/regex.rs, kept
// Go-idiomatic as an Evaluator interface rather than a Rust match on an
// Inference/Datapoint enum pair.
package evaluator

import (
	"context"
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
)

// Evaluator scores one candidate inference result against its datapoint.
// Ok(Some) is a score, Ok(None) means the evaluator has nothing to say about
// this datapoint (no reference output configured), and a returned error is
// an evaluator failure that does not abort the run (spec.md §4.I).
type Evaluator interface {
	// Evaluate returns nil (not an error) for the inapplicable case: "no
	// score" is a valid outcome, distinct from "scoring failed".
	Evaluate(ctx context.Context, datapoint *gwtypes.Datapoint, result *gwtypes.InferenceResult) (*Score, error)
}

// Score is the scalar result of one evaluator run. IsBool selects which of
// Bool/Float is meaningful, since a zero-value float64 score and a
// zero-value bool score are both legal and must not be confused.
type Score struct {
	IsBool bool
	Bool   bool
	Float  float64
}

// AsFloat maps the score onto a single float64 for adaptive-stopping
// statistics (spec.md §4.I treats boolean scores as 1.0/0.0 for this
// purpose).
func (s Score) AsFloat() float64 {
	if s.IsBool {
		if s.Bool {
			return 1
		}

		return 0
	}

	return s.Float
}

// MarshalJSON renders the score the way feedback.Submit's kind validation
// expects: a bare JSON boolean or a bare JSON number, never an object.
func (s Score) MarshalJSON() ([]byte, error) {
	if s.IsBool {
		return json.Marshal(s.Bool)
	}

	return json.Marshal(s.Float)
}

// ExactMatch compares the candidate output to the datapoint's reference
// output, structurally. Grounded on evaluators/exact_match.rs:
// run_exact_match_evaluator.
type ExactMatch struct{}

func (ExactMatch) Evaluate(_ context.Context, datapoint *gwtypes.Datapoint, result *gwtypes.InferenceResult) (*Score, error) {
	switch {
	case result.Chat != nil:
		if len(datapoint.ReferenceJSONOutput) > 0 {
			return nil, gwerrors.New(gwerrors.KindInvalidRequest, "datapoint and inference response types do not match")
		}

		if datapoint.ReferenceChatOutput == nil {
			return nil, nil
		}

		matches := contentBlocksEqual(datapoint.ReferenceChatOutput.Content, result.Chat.Content)

		return &Score{IsBool: true, Bool: matches}, nil

	case result.JSON != nil:
		if datapoint.ReferenceChatOutput != nil {
			return nil, gwerrors.New(gwerrors.KindInvalidRequest, "datapoint and inference response types do not match")
		}

		// "no reference" must surface as zero bytes, not a JSON null literal:
		// the datasets table declares reference_json_output String DEFAULT ''
		// (internal/chdb/migrate/migrations/0002_datasets_table.go), so an
		// absent reference always scans back as an empty string, never "null".
		if len(datapoint.ReferenceJSONOutput) == 0 {
			return nil, nil
		}

		if len(result.JSON.Parsed) == 0 {
			// The candidate's own output failed to parse; exact_match.rs
			// warns and reports inapplicable rather than a hard mismatch.
			return nil, nil
		}

		matches, err := jsonValuesEqual(datapoint.ReferenceJSONOutput, result.JSON.Parsed)
		if err != nil {
			return nil, err
		}

		return &Score{IsBool: true, Bool: matches}, nil

	default:
		return nil, gwerrors.New(gwerrors.KindInvalidRequest, "datapoint and inference response types do not match")
	}
}

func contentBlocksEqual(a, b []gwtypes.ContentBlockOutput) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}

	return true
}

func jsonValuesEqual(a, b json.RawMessage) (bool, error) {
	var va, vb any

	if err := json.Unmarshal(a, &va); err != nil {
		return false, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid reference json output")
	}

	if err := json.Unmarshal(b, &vb); err != nil {
		return false, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid candidate json output")
	}

	return reflect.DeepEqual(va, vb), nil
}

// Regex tests a compiled pattern against the candidate output's text
// content. Grounded on evaluators/regex.rs: run_regex_evaluator. Per
// spec.md §4.J the pattern must be validated at load time, so construction
// (not Evaluate) is where compilation happens and can fail.
type Regex struct {
	pattern *regexp.Regexp
}

// NewRegex compiles pattern once at evaluation-load time, matching
// spec.md §4.J's "invalid patterns fail evaluation at startup, not
// per-datapoint".
func NewRegex(pattern string) (*Regex, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid regex pattern %q", pattern)
	}

	return &Regex{pattern: re}, nil
}

func (r *Regex) Evaluate(_ context.Context, _ *gwtypes.Datapoint, result *gwtypes.InferenceResult) (*Score, error) {
	var text string

	switch {
	case result.Chat != nil:
		text = extractChatText(result.Chat.Content)
	case result.JSON != nil:
		text = result.JSON.Raw
	default:
		return nil, gwerrors.New(gwerrors.KindInvalidRequest, "datapoint and inference response types do not match")
	}

	return &Score{IsBool: true, Bool: r.pattern.MatchString(text)}, nil
}

// extractChatText joins every block's text-like content with a space,
// mirroring regex.rs's extract_text_from_chat_response: text blocks verbatim,
// tool calls by their raw arguments, thoughts by their text, and Unknown
// blocks when their payload happens to be a plain string.
func extractChatText(blocks []gwtypes.ContentBlockOutput) string {
	parts := make([]string, 0, len(blocks))

	for _, b := range blocks {
		switch b.Type {
		case gwtypes.ContentText:
			parts = append(parts, b.Text)
		case gwtypes.ContentToolCall:
			parts = append(parts, b.ToolRawArgs)
		case gwtypes.ContentThought:
			if b.ThoughtText != "" {
				parts = append(parts, b.ThoughtText)
			}
		case gwtypes.ContentUnknown:
			if s, ok := b.UnknownData.(string); ok {
				parts = append(parts, s)
			}
		}
	}

	return strings.Join(parts, " ")
}
