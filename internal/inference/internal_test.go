package inference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/objectstore"
)

func TestParseJSONOutput_ValidJSON(t *testing.T) {
	out := parseJSONOutput([]gwtypes.ContentBlockOutput{{Type: gwtypes.ContentText, Text: `{"a":1}`}})

	require.Equal(t, `{"a":1}`, out.Raw)
	require.JSONEq(t, `{"a":1}`, string(out.Parsed))
}

func TestParseJSONOutput_RepairsTrailingComma(t *testing.T) {
	out := parseJSONOutput([]gwtypes.ContentBlockOutput{{Type: gwtypes.ContentText, Text: `{"a":1,}`}})

	require.NotNil(t, out.Parsed)
	require.JSONEq(t, `{"a":1}`, string(out.Parsed))
}

func TestParseJSONOutput_UnrepairableGivesUpWithNilParsed(t *testing.T) {
	out := parseJSONOutput([]gwtypes.ContentBlockOutput{{Type: gwtypes.ContentText, Text: "not json at all {{{"}})

	require.Equal(t, "not json at all {{{", out.Raw)
	require.Nil(t, out.Parsed)
}

func TestResolveFiles_ObjectStoreScheme(t *testing.T) {
	store, err := objectstore.New(objectstore.Config{Backend: objectstore.BackendFilesystem, RootPath: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "uploads/a.png", []byte("\x89PNG\r\n\x1a\n")))

	input := &gwtypes.Input{
		Messages: []gwtypes.InputMessage{{
			Role: gwtypes.RoleUser,
			Content: []gwtypes.InputMessageContent{{
				Type: gwtypes.ContentFile,
				URL:  objectStoreScheme + "uploads/a.png",
			}},
		}},
	}

	require.NoError(t, resolveFiles(context.Background(), nil, store, input))

	block := input.Messages[0].Content[0]
	require.Empty(t, block.URL)
	require.NotEmpty(t, block.Data)
	require.Equal(t, "image/png", block.MimeType)
}

func TestResolveFiles_ObjectStoreSchemeWithoutStoreErrors(t *testing.T) {
	input := &gwtypes.Input{
		Messages: []gwtypes.InputMessage{{
			Role:    gwtypes.RoleUser,
			Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentFile, URL: objectStoreScheme + "uploads/a.png"}},
		}},
	}

	err := resolveFiles(context.Background(), nil, nil, input)
	require.Error(t, err)
}

