package router_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
	"github.com/tensorzero/gateway/internal/router"
)

func testStore(t *testing.T) *gwconfig.Store {
	t.Helper()

	yaml := []byte(`
models:
  gpt4:
    providers:
      - type: openai
        model_name: gpt-4o-mini
functions:
  write_haiku:
    type: chat
    variants:
      v1:
        type: chat_completion
        model: gpt4
        weight: 1
`)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	s, err := gwconfig.Load(path)
	require.NoError(t, err)

	return s
}

func TestResolve_FunctionTargeted(t *testing.T) {
	s := testStore(t)

	route, err := router.Resolve(s, &gwtypes.Request{FunctionName: "write_haiku"})
	require.NoError(t, err)
	require.Equal(t, "v1", route.VariantName)
	require.Equal(t, "gpt4", route.ModelName)
	require.Len(t, route.Providers, 1)
	require.Equal(t, provider.TypeOpenAI, route.Providers[0].Type)
	require.False(t, route.DirectModel)
}

func TestResolve_DirectModel(t *testing.T) {
	s := testStore(t)

	route, err := router.Resolve(s, &gwtypes.Request{ModelName: "openai::gpt-4o"})
	require.NoError(t, err)
	require.True(t, route.DirectModel)
	require.Equal(t, "gpt-4o", route.Providers[0].ModelName)
}

func TestResolve_UnknownFunction(t *testing.T) {
	s := testStore(t)

	_, err := router.Resolve(s, &gwtypes.Request{FunctionName: "nope"})
	require.Error(t, err)
}

func TestResolve_PinnedUnknownVariant(t *testing.T) {
	s := testStore(t)

	_, err := router.Resolve(s, &gwtypes.Request{FunctionName: "write_haiku", VariantName: "nope"})
	require.Error(t, err)
}
