package evaluator_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/evaluation/evaluator"
	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/gwtypes"
)

func TestExactMatch_Chat_Matches(t *testing.T) {
	content := []gwtypes.ContentBlockOutput{{Type: gwtypes.ContentText, Text: "hello"}}

	dp := &gwtypes.Datapoint{ReferenceChatOutput: &gwtypes.ChatOutput{Content: content}}
	result := &gwtypes.InferenceResult{Chat: &gwtypes.ChatOutput{Content: content}}

	score, err := evaluator.ExactMatch{}.Evaluate(context.Background(), dp, result)
	require.NoError(t, err)
	require.NotNil(t, score)
	require.True(t, score.Bool)
}

func TestExactMatch_Chat_NoReference_Inapplicable(t *testing.T) {
	result := &gwtypes.InferenceResult{Chat: &gwtypes.ChatOutput{}}

	score, err := evaluator.ExactMatch{}.Evaluate(context.Background(), &gwtypes.Datapoint{}, result)
	require.NoError(t, err)
	require.Nil(t, score)
}

func TestExactMatch_JSON_ComparesParsedValues(t *testing.T) {
	dp := &gwtypes.Datapoint{ReferenceJSONOutput: json.RawMessage(`{"a":1,"b":2}`)}
	result := &gwtypes.InferenceResult{JSON: &gwtypes.JSONOutput{Parsed: json.RawMessage(`{"b":2,"a":1}`)}}

	score, err := evaluator.ExactMatch{}.Evaluate(context.Background(), dp, result)
	require.NoError(t, err)
	require.NotNil(t, score)
	require.True(t, score.Bool)
}

func TestExactMatch_JSON_UnparsedCandidate_Inapplicable(t *testing.T) {
	dp := &gwtypes.Datapoint{ReferenceJSONOutput: json.RawMessage(`{"a":1}`)}
	result := &gwtypes.InferenceResult{JSON: &gwtypes.JSONOutput{Raw: "not json"}}

	score, err := evaluator.ExactMatch{}.Evaluate(context.Background(), dp, result)
	require.NoError(t, err)
	require.Nil(t, score)
}

func TestExactMatch_TypeMismatch_Errors(t *testing.T) {
	dp := &gwtypes.Datapoint{ReferenceChatOutput: &gwtypes.ChatOutput{}}
	result := &gwtypes.InferenceResult{JSON: &gwtypes.JSONOutput{Parsed: json.RawMessage(`{}`)}}

	_, err := evaluator.ExactMatch{}.Evaluate(context.Background(), dp, result)
	require.Error(t, err)
}

func TestRegex_InvalidPatternFailsAtConstruction(t *testing.T) {
	_, err := evaluator.NewRegex("(unterminated")
	require.Error(t, err)
}

func TestRegex_Chat_MatchesJoinedText(t *testing.T) {
	re, err := evaluator.NewRegex(`^\d+ apples$`)
	require.NoError(t, err)

	result := &gwtypes.InferenceResult{Chat: &gwtypes.ChatOutput{Content: []gwtypes.ContentBlockOutput{
		{Type: gwtypes.ContentText, Text: "42 apples"},
	}}}

	score, err := re.Evaluate(context.Background(), &gwtypes.Datapoint{}, result)
	require.NoError(t, err)
	require.True(t, score.Bool)
}

func TestRegex_JSON_MatchesRawText(t *testing.T) {
	re, err := evaluator.NewRegex(`"status":\s*"ok"`)
	require.NoError(t, err)

	result := &gwtypes.InferenceResult{JSON: &gwtypes.JSONOutput{Raw: `{"status": "ok"}`}}

	score, err := re.Evaluate(context.Background(), &gwtypes.Datapoint{}, result)
	require.NoError(t, err)
	require.True(t, score.Bool)
}

func TestBuild_UnknownKindErrors(t *testing.T) {
	_, err := evaluator.Build(gwconfig.EvaluatorConfig{Kind: "bogus"}, nil)
	require.Error(t, err)
}
