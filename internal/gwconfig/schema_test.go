package gwconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileSchema_Valid(t *testing.T) {
	resolved, err := CompileSchema([]byte(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`))
	require.NoError(t, err)
	require.NotNil(t, resolved)
}

func TestCompileSchema_MalformedRejected(t *testing.T) {
	_, err := CompileSchema([]byte(`{"type": 123}`))
	require.Error(t, err)
}

func TestBuild_RejectsMalformedOutputSchema(t *testing.T) {
	doc := testDoc()
	fn := doc.Functions["write_haiku"]
	fn.Type = "json"
	fn.OutputSchema = `{"type": 123}`
	doc.Functions["write_haiku"] = fn

	_, err := build(doc)
	require.Error(t, err)
}

func TestBuild_CompilesOutputSchema(t *testing.T) {
	doc := testDoc()
	fn := doc.Functions["write_haiku"]
	fn.Type = "json"
	fn.OutputSchema = `{"type":"object","properties":{"haiku":{"type":"string"}}}`
	doc.Functions["write_haiku"] = fn

	s, err := build(doc)
	require.NoError(t, err)

	got, err := s.GetFunction("write_haiku")
	require.NoError(t, err)
	require.NotNil(t, got.OutputSchemaResolved)
}
