package gwconfig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
)

func testDoc() rawDocument {
	return rawDocument{
		Models: map[string]rawModel{
			"gpt4": {Providers: []ModelProviderConfig{{Type: provider.TypeOpenAI, ModelName: "gpt-4o-mini"}}},
		},
		Functions: map[string]rawFunction{
			"write_haiku": {
				Type: "chat",
				Variants: map[string]VariantConfig{
					"v1": {Kind: VariantChatCompletion, ModelName: "gpt4", Weight: 1, SystemTemplate: "be terse"},
					"v2": {Kind: VariantChatCompletion, ModelName: "gpt4", Weight: 0},
				},
			},
		},
		Metrics: map[string]rawMetric{
			"task_success": {Type: "boolean", Level: "inference"},
		},
	}
}

func TestBuild_RejectsUnimplementedVariantKind(t *testing.T) {
	doc := testDoc()
	doc.Functions["write_haiku"] = rawFunction{
		Type: "chat",
		Variants: map[string]VariantConfig{
			"v1": {Kind: VariantBestOfN, ModelName: "gpt4", Weight: 1, Candidates: []string{"v2"}},
		},
	}

	_, err := build(doc)
	require.Error(t, err, "best_of_n is declared but not dispatched; config load must fail fast rather than silently run chat_completion")
}

func TestBuild_BlankVariantKindDefaultsToChatCompletion(t *testing.T) {
	doc := testDoc()
	v := doc.Functions["write_haiku"].Variants["v1"]
	v.Kind = ""
	doc.Functions["write_haiku"].Variants["v1"] = v

	_, err := build(doc)
	require.NoError(t, err)
}

func TestBuild_ResolvesFunctionAndModel(t *testing.T) {
	s, err := build(testDoc())
	require.NoError(t, err)

	fn, err := s.GetFunction("write_haiku")
	require.NoError(t, err)
	require.Equal(t, gwtypes.FunctionChat, fn.Type)

	m, err := s.GetModel("gpt4")
	require.NoError(t, err)
	require.Len(t, m.Providers, 1)
}

func TestGetModel_ShorthandSynthesizesDefinition(t *testing.T) {
	s, err := build(testDoc())
	require.NoError(t, err)

	m, err := s.GetModel("openai::gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", m.Providers[0].ModelName)
	require.Equal(t, provider.TypeOpenAI, m.Providers[0].Type)
}

func TestGetModel_UnknownFails(t *testing.T) {
	s, err := build(testDoc())
	require.NoError(t, err)

	_, err = s.GetModel("nonexistent")
	require.Error(t, err)
}

func TestSelectVariant_PinnedWins(t *testing.T) {
	s, err := build(testDoc())
	require.NoError(t, err)

	fn, _ := s.GetFunction("write_haiku")

	v, err := fn.SelectVariant("v2", 0.5)
	require.NoError(t, err)
	require.Equal(t, "v2", v.Name)
}

func TestSelectVariant_PinnedUnknownFails(t *testing.T) {
	s, err := build(testDoc())
	require.NoError(t, err)

	fn, _ := s.GetFunction("write_haiku")

	_, err = fn.SelectVariant("nope", 0.5)
	require.Error(t, err)
}

func TestSelectVariant_OnlyWeightedVariantsEligible(t *testing.T) {
	s, err := build(testDoc())
	require.NoError(t, err)

	fn, _ := s.GetFunction("write_haiku")

	for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.99} {
		v, err := fn.SelectVariant("", r)
		require.NoError(t, err)
		require.Equal(t, "v1", v.Name) // v2 has weight 0, never eligible
	}
}

func TestRenderTemplate(t *testing.T) {
	s, err := build(testDoc())
	require.NoError(t, err)

	out, err := s.RenderTemplate(SystemTemplateName("write_haiku", "v1"), nil)
	require.NoError(t, err)
	require.Equal(t, "be terse", out)
}

func TestGetMetric(t *testing.T) {
	s, err := build(testDoc())
	require.NoError(t, err)

	m, err := s.GetMetric("task_success")
	require.NoError(t, err)
	require.Equal(t, gwtypes.MetricBoolean, m.Kind)
	require.Equal(t, gwtypes.LevelInference, m.Level)
}

func TestGetMetric_Unknown(t *testing.T) {
	s, err := build(testDoc())
	require.NoError(t, err)

	_, err = s.GetMetric("nope")
	require.Error(t, err)
}
