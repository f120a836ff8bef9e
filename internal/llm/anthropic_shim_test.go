package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToAnthropicMessagesConvertsToolCalls(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "what time is it"},
		{Role: "assistant", ToolCalls: []ToolCallRequest{{ID: "tc1", Name: "time_date", Arguments: `{"query":"time"}`}}},
		{Role: "tool", ToolCallID: "tc1", Content: "It's 3:00 PM."},
	}

	converted, err := toAnthropicMessages(messages)
	require.NoError(t, err)
	assert.Len(t, converted, 3)
}

func TestToAnthropicMessagesRejectsMalformedToolArguments(t *testing.T) {
	messages := []Message{
		{Role: "assistant", ToolCalls: []ToolCallRequest{{ID: "tc1", Name: "x", Arguments: "{not json"}}},
	}
	_, err := toAnthropicMessages(messages)
	require.Error(t, err)
}

func TestToAnthropicToolsPreservesNames(t *testing.T) {
	tools := []ToolDescriptor{{Name: "time_date", Description: "tells time"}}
	converted := toAnthropicTools(tools)
	assert.Len(t, converted, 1)
	assert.Equal(t, "time_date", converted[0].OfTool.Name)
}
