package gwconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTemplateStore_RenderWithArgs(t *testing.T) {
	ts := NewTemplateStore()
	require.NoError(t, ts.Add("greeting", "hello {{.Name}}"))
	require.NoError(t, ts.Validate())

	out, err := ts.Render("greeting", map[string]any{"Name": "world"})
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
}

func TestTemplateStore_Validate_UndeclaredReferenceFails(t *testing.T) {
	ts := NewTemplateStore()
	require.NoError(t, ts.Add("outer", `{{template "missing" .}}`))

	err := ts.Validate()
	require.Error(t, err)
}

func TestTemplateStore_Validate_DeclaredReferencePasses(t *testing.T) {
	ts := NewTemplateStore()
	require.NoError(t, ts.Add("inner", "hi"))
	require.NoError(t, ts.Add("outer", `{{template "inner" .}}`))

	require.NoError(t, ts.Validate())
}

func TestTemplateStore_Render_UnknownTemplate(t *testing.T) {
	ts := NewTemplateStore()

	_, err := ts.Render("nope", nil)
	require.Error(t, err)
}
