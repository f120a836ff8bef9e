package sessions

// PartType is the kind of one entry in a DisplayBlock's Parts array.
type PartType string

const (
	PartContent    PartType = "content"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Part is one entry of a DisplayBlock's ordered parts array.
type Part struct {
	Type      PartType `json:"type"`
	Content   string   `json:"content,omitempty"`
	ToolCall  *ToolCall `json:"tool_call,omitempty"`
	ToolName  string   `json:"tool_name,omitempty"`
	ToolInput string   `json:"tool_input,omitempty"`
}

// DisplayBlock groups one user/system message, or one assistant message
// together with any immediately following tool results and continuations,
// into a single renderable unit.
type DisplayBlock struct {
	Role      Role    `json:"role"`
	Timestamp string  `json:"timestamp"`
	Parts     []Part  `json:"parts"`
}

// DisplayView groups each assistant message together with any immediately
// following tool results and subsequent continuations into one block with an
// ordered Parts array. The underlying message list is not mutated.
func DisplayView(messages []Message) []DisplayBlock {
	var blocks []DisplayBlock
	i := 0
	for i < len(messages) {
		msg := messages[i]
		switch msg.Role {
		case RoleAssistant:
			block := DisplayBlock{Role: RoleAssistant, Timestamp: msg.Timestamp}
			if msg.Content != "" {
				block.Parts = append(block.Parts, Part{Type: PartContent, Content: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				tcCopy := tc
				block.Parts = append(block.Parts, Part{Type: PartToolCall, ToolCall: &tcCopy})
			}
			i++
			for i < len(messages) && messages[i].Role == RoleTool {
				tool := messages[i]
				block.Parts = append(block.Parts, Part{
					Type:      PartToolResult,
					Content:   tool.Content,
					ToolName:  tool.Name,
					ToolInput: tool.ToolInputs,
				})
				i++
			}
			for i < len(messages) && messages[i].Role == RoleAssistant {
				cont := messages[i]
				if cont.Content != "" {
					block.Parts = append(block.Parts, Part{Type: PartContent, Content: cont.Content})
				}
				for _, tc := range cont.ToolCalls {
					tcCopy := tc
					block.Parts = append(block.Parts, Part{Type: PartToolCall, ToolCall: &tcCopy})
				}
				i++
				for i < len(messages) && messages[i].Role == RoleTool {
					tool := messages[i]
					block.Parts = append(block.Parts, Part{
						Type:      PartToolResult,
						Content:   tool.Content,
						ToolName:  tool.Name,
						ToolInput: tool.ToolInputs,
					})
					i++
				}
				if len(cont.ToolCalls) == 0 {
					break
				}
			}
			blocks = append(blocks, block)
		default:
			blocks = append(blocks, DisplayBlock{
				Role:      msg.Role,
				Timestamp: msg.Timestamp,
				Parts:     []Part{{Type: PartContent, Content: msg.Content}},
			})
			i++
		}
	}
	return blocks
}
