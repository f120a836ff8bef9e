package llm

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicClient is the Client boundary's concrete Claude implementation,
// a thin wrapper around the real SDK's streaming call. Provider selection,
// retries, and fallback chains are out of scope; ChatOrchestrator talks to
// exactly this Client shape.
type AnthropicClient struct {
	sdk anthropic.Client
}

// NewAnthropicClient builds a Client against the given API key. An empty key
// still constructs a usable value (Stream then fails per-call with the SDK's
// own auth error) so wiring can proceed before credentials are configured.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return newAnthropicClientWithOptions(option.WithAPIKey(apiKey))
}

func newAnthropicClientWithOptions(opts ...option.RequestOption) *AnthropicClient {
	return &AnthropicClient{sdk: anthropic.NewClient(opts...)}
}

const defaultMaxTokens = 4096

// DefaultModel is the Claude model Sapphire talks to when a chat's settings
// leave Model unset.
const DefaultModel = "claude-sonnet-4-5-20250929"

func (c *AnthropicClient) Stream(ctx context.Context, req CompletionRequest) (<-chan Chunk, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	stream := c.sdk.Messages.NewStreaming(ctx, params)
	out := make(chan Chunk)
	go processAnthropicStream(stream, out)
	return out, nil
}

func processAnthropicStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- Chunk) {
	defer close(out)

	var toolCall *ToolCallRequest
	var toolInput string

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				toolCall = &ToolCallRequest{ID: use.ID, Name: use.Name}
				toolInput = ""
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- Chunk{Text: delta.Text}
				}
			case "input_json_delta":
				toolInput += delta.PartialJSON
			}
		case "content_block_stop":
			if toolCall != nil {
				toolCall.Arguments = toolInput
				out <- Chunk{ToolCall: toolCall}
				toolCall = nil
			}
		case "message_stop":
			out <- Chunk{Done: true}
			return
		case "error":
			out <- Chunk{Error: errors.New("anthropic stream error")}
			return
		}
	}
	if err := stream.Err(); err != nil {
		out <- Chunk{Error: err}
	}
}
