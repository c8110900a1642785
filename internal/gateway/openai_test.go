package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveOpenAIModel_FunctionNamePrefix(t *testing.T) {
	got := resolveOpenAIModel(context.Background(), "tensorzero::function_name::write_haiku", false)
	require.Equal(t, "write_haiku", got.functionName)
	require.Empty(t, got.modelName)
}

func TestResolveOpenAIModel_ModelNamePrefix(t *testing.T) {
	got := resolveOpenAIModel(context.Background(), "tensorzero::model_name::gpt4", false)
	require.Equal(t, "gpt4", got.modelName)
	require.Empty(t, got.functionName)
}

func TestResolveOpenAIModel_EmbeddingModelNamePrefixOnlyForEmbeddings(t *testing.T) {
	got := resolveOpenAIModel(context.Background(), "tensorzero::embedding_model_name::ada", true)
	require.Equal(t, "ada", got.modelName)

	// Outside an embedding request the embedding prefix isn't recognized and
	// falls through to the deprecated bare-prefix form instead.
	got = resolveOpenAIModel(context.Background(), "tensorzero::embedding_model_name::ada", false)
	require.Equal(t, "embedding_model_name::ada", got.functionName)
}

func TestResolveOpenAIModel_DeprecatedBarePrefix(t *testing.T) {
	got := resolveOpenAIModel(context.Background(), "tensorzero::write_haiku", false)
	require.Equal(t, "write_haiku", got.functionName)
	require.Empty(t, got.modelName)
}

func TestResolveOpenAIModel_LiteralModelName(t *testing.T) {
	got := resolveOpenAIModel(context.Background(), "gpt-4o-mini", false)
	require.Equal(t, "gpt-4o-mini", got.modelName)
	require.Empty(t, got.functionName)
}
