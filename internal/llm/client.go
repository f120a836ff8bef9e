// Package llm defines the LLMClient boundary ChatOrchestrator streams
// against. The LLM client's internals are out of scope for the
// orchestration core; this package only types the contract so the
// orchestrator compiles against a real streaming shape.
package llm

import "context"

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role      string
	Content   string
	ToolCalls []ToolCallRequest
	// ToolCallID and Name bind a tool-role message back to its triggering call.
	ToolCallID string
	Name       string
}

// ToolCallRequest is one tool invocation the model asked for.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDescriptor is the shape of one tool definition sent to the model,
// independent of tools.Descriptor so this package has no dependency on the
// tools package.
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      []byte
}

// CompletionRequest is one LLM call: system prompt, history, active tools,
// and generation parameters.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDescriptor
	MaxTokens int
}

// Chunk is one unit of a streamed completion. Exactly one of Text,
// ToolCall, Error is meaningfully set per chunk; Done marks stream end.
type Chunk struct {
	Text      string
	ToolCall  *ToolCallRequest
	Error     error
	Done      bool
	Ephemeral bool
}

// Client streams a completion for req, yielding Chunks on the returned
// channel until it closes. The channel is closed when the stream ends,
// whether by completion, error, or ctx cancellation.
type Client interface {
	Stream(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
