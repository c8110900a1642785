package gwtypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInputMessageContent_LegacyTextReinterpretation(t *testing.T) {
	raw := json.RawMessage(`{"type":"text","value":{"topic":"cats"}}`)

	block, err := DecodeInputMessageContent(raw, RoleUser)
	require.NoError(t, err)

	assert.Equal(t, ContentTemplate, block.Type)
	assert.Equal(t, "user", block.TemplateName)
	assert.Equal(t, "cats", block.Arguments["topic"])
}

func TestDecodeInputMessageContent_ModernTextUnaffected(t *testing.T) {
	raw := json.RawMessage(`{"type":"text","text":"hello world"}`)

	block, err := DecodeInputMessageContent(raw, RoleAssistant)
	require.NoError(t, err)

	assert.Equal(t, ContentText, block.Type)
	assert.Equal(t, "hello world", block.Text)
}

func TestDecodeInputMessageContent_ToolCall(t *testing.T) {
	raw := json.RawMessage(`{"type":"tool_call","id":"call_1","tool_name":"get_weather","raw_arguments":"{\"city\":\"SF\"}"}`)

	block, err := DecodeInputMessageContent(raw, RoleAssistant)
	require.NoError(t, err)

	assert.Equal(t, ContentToolCall, block.Type)
	assert.Equal(t, "get_weather", block.ToolName)
}
