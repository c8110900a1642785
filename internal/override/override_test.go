package override_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/override"
)

func TestApply_Set(t *testing.T) {
	body, err := override.Apply([]byte(`{"model":"gpt-4"}`), []override.Operation{
		{Op: override.OpSet, Path: "temperature", Value: 0.5},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"model":"gpt-4","temperature":0.5}`, string(body))
}

func TestApply_Delete(t *testing.T) {
	body, err := override.Apply([]byte(`{"model":"gpt-4","top_p":1}`), []override.Operation{
		{Op: override.OpDelete, Path: "top_p"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"model":"gpt-4"}`, string(body))
}

func TestApply_Rename(t *testing.T) {
	body, err := override.Apply([]byte(`{"max_tokens":16}`), []override.Operation{
		{Op: override.OpRename, From: "max_tokens", To: "max_completion_tokens"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"max_completion_tokens":16}`, string(body))
}

func TestApply_Copy(t *testing.T) {
	body, err := override.Apply([]byte(`{"seed":7}`), []override.Operation{
		{Op: override.OpCopy, From: "seed", To: "metadata.seed"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"seed":7,"metadata":{"seed":7}}`, string(body))
}

func TestApply_RenameMissingFromIsNoOp(t *testing.T) {
	body, err := override.Apply([]byte(`{"a":1}`), []override.Operation{
		{Op: override.OpRename, From: "missing", To: "b"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(body))
}

func TestApply_UnknownOpErrors(t *testing.T) {
	_, err := override.Apply([]byte(`{}`), []override.Operation{{Op: "bogus", Path: "x"}})
	require.Error(t, err)
}
