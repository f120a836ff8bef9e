package llm

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// toAnthropicMessages converts this package's Message shape to the real SDK's
// MessageParam shape, so CompletionRequest stays anchored to an actual
// provider wire contract even though a full client is out of scope here.
func toAnthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		switch msg.Role {
		case "tool":
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		default:
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments: %w", err)
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
		}

		var message anthropic.MessageParam
		if msg.Role == "assistant" {
			message = anthropic.NewAssistantMessage(content...)
		} else {
			message = anthropic.NewUserMessage(content...)
		}
		result = append(result, message)
	}
	return result, nil
}

// toAnthropicTools converts this package's ToolDescriptor shape to the real
// SDK's ToolUnionParam shape, carrying the name, the description and the
// schema's properties and required list.
func toAnthropicTools(tools []ToolDescriptor) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		var declared struct {
			Properties any      `json:"properties"`
			Required   []string `json:"required"`
		}
		if len(tool.Schema) > 0 && json.Unmarshal(tool.Schema, &declared) == nil {
			schema.Properties = declared.Properties
			schema.Required = declared.Required
		}
		union := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if tool.Description != "" {
			union.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, union)
	}
	return result
}
