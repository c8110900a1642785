package inference_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/cache"
	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/inference"
	"github.com/tensorzero/gateway/internal/provider"
	"github.com/tensorzero/gateway/internal/provider/dummy"
)

type recordingSink struct {
	mu      sync.Mutex
	records []inference.InferenceRecord
}

func (s *recordingSink) PersistInference(_ context.Context, rec inference.InferenceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
}

func (s *recordingSink) all() []inference.InferenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]inference.InferenceRecord(nil), s.records...)
}

func testStore(t *testing.T, yaml string) *gwconfig.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	s, err := gwconfig.Load(path)
	require.NoError(t, err)

	return s
}

func testRegistry() *provider.Registry {
	reg := provider.NewRegistry()
	reg.Register(&provider.Adapter{Type: provider.TypeDummy, Chatter: dummy.New(), StreamChatter: dummy.New()})

	return reg
}

func testDeps(t *testing.T, yaml string) (Deps, *recordingSink) {
	t.Helper()

	sink := &recordingSink{}
	c, err := cache.New(cache.Config{Mode: cache.ModeOff})
	require.NoError(t, err)

	return Deps{
		Store:     testStore(t, yaml),
		Cache:     c,
		Providers: testRegistry(),
		Sink:      sink,
	}, sink
}

// Deps is a local alias so the table above reads naturally; inference.Deps
// is the real type.
type Deps = inference.Deps

const chatFunctionYAML = `
models:
  gpt4:
    providers:
      - type: dummy
        model_name: dummy::good
functions:
  write_haiku:
    type: chat
    variants:
      v1:
        type: chat_completion
        model: gpt4
        weight: 1
`

func TestProcess_DirectModel_Succeeds(t *testing.T) {
	deps, sink := testDeps(t, chatFunctionYAML)

	req := &gwtypes.Request{
		ModelName: "dummy::good",
		Input:     gwtypes.Input{Messages: []gwtypes.InputMessage{{Role: gwtypes.RoleUser, Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentText, Text: "hi"}}}}},
	}

	result, err := inference.Process(context.Background(), deps, req)
	require.NoError(t, err)
	require.NotNil(t, result.Chat)
	require.Equal(t, gwtypes.FinishStop, result.FinishReason)

	records := sink.all()
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Result)
	require.Empty(t, records[0].Err)
}

func TestProcess_FunctionTargeted_Succeeds(t *testing.T) {
	deps, _ := testDeps(t, chatFunctionYAML)

	req := &gwtypes.Request{
		FunctionName: "write_haiku",
		Input:        gwtypes.Input{Messages: []gwtypes.InputMessage{{Role: gwtypes.RoleUser, Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentText, Text: "hi"}}}}},
	}

	result, err := inference.Process(context.Background(), deps, req)
	require.NoError(t, err)
	require.Equal(t, "v1", result.VariantName)
}

func TestProcess_UnknownFunction_Errors(t *testing.T) {
	deps, sink := testDeps(t, chatFunctionYAML)

	_, err := inference.Process(context.Background(), deps, &gwtypes.Request{FunctionName: "nope"})
	require.Error(t, err)
	require.Empty(t, sink.all()) // resolution failed before any persistable attempt existed
}

func TestProcess_AllProvidersExhausted_PersistsError(t *testing.T) {
	deps, sink := testDeps(t, `
models:
  broken:
    providers:
      - type: dummy
        model_name: dummy::error
functions: {}
`)

	req := &gwtypes.Request{
		ModelName: "broken",
		Input:     gwtypes.Input{Messages: []gwtypes.InputMessage{{Role: gwtypes.RoleUser, Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentText, Text: "hi"}}}}},
	}

	_, err := inference.Process(context.Background(), deps, req)
	require.Error(t, err)

	records := sink.all()
	require.Len(t, records, 1)
	require.NotEmpty(t, records[0].Attempts)
	require.NotNil(t, records[0].Err)
}

func TestProcess_DryRun_SkipsPersistence(t *testing.T) {
	deps, sink := testDeps(t, chatFunctionYAML)

	req := &gwtypes.Request{
		ModelName: "dummy::good",
		DryRun:    true,
		Input:     gwtypes.Input{Messages: []gwtypes.InputMessage{{Role: gwtypes.RoleUser, Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentText, Text: "hi"}}}}},
	}

	_, err := inference.Process(context.Background(), deps, req)
	require.NoError(t, err)
	require.Empty(t, sink.all())
}

func TestProcess_ToolChoiceUnknownTool_Rejected(t *testing.T) {
	deps, _ := testDeps(t, chatFunctionYAML)

	req := &gwtypes.Request{
		ModelName:  "dummy::good",
		ToolChoice: &gwtypes.ToolChoice{Mode: gwtypes.ToolChoiceSpecific, SpecificTool: "nonexistent"},
		Input:      gwtypes.Input{Messages: []gwtypes.InputMessage{{Role: gwtypes.RoleUser, Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentText, Text: "hi"}}}}},
	}

	_, err := inference.Process(context.Background(), deps, req)
	require.Error(t, err)
}

func TestProcess_MalformedDynamicOutputSchema_Rejected(t *testing.T) {
	deps, _ := testDeps(t, chatFunctionYAML)

	req := &gwtypes.Request{
		ModelName:    "dummy::good",
		OutputSchema: []byte(`{"type": 123}`),
		Input:        gwtypes.Input{Messages: []gwtypes.InputMessage{{Role: gwtypes.RoleUser, Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentText, Text: "hi"}}}}},
	}

	_, err := inference.Process(context.Background(), deps, req)
	require.Error(t, err)
}

func TestProcess_MalformedToolParameterSchema_Rejected(t *testing.T) {
	deps, _ := testDeps(t, chatFunctionYAML)

	req := &gwtypes.Request{
		ModelName:       "dummy::good",
		AdditionalTools: []gwtypes.Tool{{Name: "lookup", Parameters: []byte(`{"type": 123}`)}},
		Input:           gwtypes.Input{Messages: []gwtypes.InputMessage{{Role: gwtypes.RoleUser, Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentText, Text: "hi"}}}}},
	}

	_, err := inference.Process(context.Background(), deps, req)
	require.Error(t, err)
}

func TestProcess_TemplateBlockRendered(t *testing.T) {
	deps, _ := testDeps(t, `
models:
  gpt4:
    providers:
      - type: dummy
        model_name: dummy::good
functions:
  greet:
    type: chat
    variants:
      v1:
        type: chat_completion
        model: gpt4
        weight: 1
        user_template: "Hello, {{.name}}!"
`)

	req := &gwtypes.Request{
		FunctionName: "greet",
		Input: gwtypes.Input{Messages: []gwtypes.InputMessage{{
			Role: gwtypes.RoleUser,
			Content: []gwtypes.InputMessageContent{{
				Type:         gwtypes.ContentTemplate,
				TemplateName: "user",
				Arguments:    map[string]any{"name": "Megumin"},
			}},
		}}},
	}

	result, err := inference.Process(context.Background(), deps, req)
	require.NoError(t, err)
	require.NotNil(t, result)
}
