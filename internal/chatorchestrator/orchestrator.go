// Package chatorchestrator implements the single-turn streaming chat
// pipeline: builds the LLM request, streams tokens to the caller, and runs
// an iterative (not recursive) tool-calling loop with a hard round cap.
package chatorchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sapphire-ai/sapphire/internal/eventbus"
	"github.com/sapphire-ai/sapphire/internal/llm"
	"github.com/sapphire-ai/sapphire/internal/sapphireerr"
	"github.com/sapphire-ai/sapphire/internal/sessions"
	"github.com/sapphire-ai/sapphire/internal/tools"
)

// MaxToolRounds is the hard cap on tool-call rounds per turn. The loop is
// iterative, not recursive, to keep stack usage bounded; exceeding the cap
// yields an error tool-result and surfaces to the user.
const MaxToolRounds = 8

// StateToolExecutor lets the StateEngine claim a subset of tool names (the
// fixed set of state-engine tools) ahead of the ordinary ToolRegistry.
type StateToolExecutor interface {
	IsStateTool(name string) bool
	ExecuteStateTool(ctx context.Context, turnNumber int, name string, args json.RawMessage) (tools.Result, error)
}

// SystemPromptBuilder assembles the system prompt for one LLM call, folding
// in state-engine-derived content when configured.
type SystemPromptBuilder interface {
	BuildSystemPrompt(turnNumber int) (string, error)
}

// Orchestrator is the ChatOrchestrator.
type Orchestrator struct {
	llm         llm.Client
	registry    *tools.Registry
	sessionMgr  *sessions.Manager
	bus         *eventbus.Bus
	stateTools  StateToolExecutor
	promptBuild SystemPromptBuilder
	model       string
	log         *slog.Logger
	now         func() time.Time

	cancelled atomic.Bool
}

// New constructs an Orchestrator wired to the given collaborators.
// stateTools and promptBuild may both be nil when the active chat has the
// state engine disabled.
func New(client llm.Client, registry *tools.Registry, sessionMgr *sessions.Manager, bus *eventbus.Bus, stateTools StateToolExecutor, promptBuild SystemPromptBuilder, model string) *Orchestrator {
	return &Orchestrator{
		llm:         client,
		registry:    registry,
		sessionMgr:  sessionMgr,
		bus:         bus,
		stateTools:  stateTools,
		promptBuild: promptBuild,
		model:       model,
		log:         slog.Default().With("component", "chatorchestrator"),
		now:         time.Now,
	}
}

// TurnInput carries the parameters of one streaming turn.
type TurnInput struct {
	Text             string
	Prefill          string
	SkipUserMessage  bool
	ToolNames        []string
	TurnNumber       int
}

// TurnEventKind is the closed set of event shapes a streamed turn yields.
type TurnEventKind string

const (
	EventChunk     TurnEventKind = "chunk"
	EventDone      TurnEventKind = "done"
	EventCancelled TurnEventKind = "cancelled"
	EventError     TurnEventKind = "error"
)

// TurnEvent is one item of the lazy finite sequence StreamTurn yields.
type TurnEvent struct {
	Kind      TurnEventKind
	Chunk     string
	Ephemeral bool
	Err       error
}

// Cancel sets the cancel flag observed by the in-flight StreamTurn call.
// Observable within one chunk's worth of latency. The flag is cleared before
// the next turn begins.
func (o *Orchestrator) Cancel() {
	o.cancelled.Store(true)
}

func (o *Orchestrator) newTimestamp() string {
	return strconv.FormatInt(o.now().UnixNano(), 10)
}

// StreamTurn runs one full turn: optionally append the user message, loop
// through LLM calls and tool dispatch until a final plain-text assistant
// message is produced, and persist along the way.
func (o *Orchestrator) StreamTurn(ctx context.Context, input TurnInput) (<-chan TurnEvent, error) {
	o.cancelled.Store(false)
	out := make(chan TurnEvent, 16)

	if !input.SkipUserMessage {
		if err := o.sessionMgr.AppendMessage(sessions.Message{
			Role:      sessions.RoleUser,
			Content:   input.Text,
			Timestamp: o.newTimestamp(),
		}); err != nil {
			return nil, err
		}
	}

	go o.run(ctx, input, out)
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, input TurnInput, out chan<- TurnEvent) {
	defer close(out)

	o.bus.Publish(eventbus.AITypingStart, nil)

	history := toLLMMessages(o.sessionMgr.GetMessages())
	round := 0

	for {
		if o.cancelled.Load() {
			out <- TurnEvent{Kind: EventCancelled}
			return
		}

		system, err := o.systemPrompt(input.TurnNumber)
		if err != nil {
			o.publishAndEmitError(out, err)
			return
		}

		toolDescs := o.resolveTools(input.ToolNames)

		req := llm.CompletionRequest{
			Model:    o.model,
			System:   system,
			Messages: history,
			Tools:    toolDescs,
		}
		if input.Prefill != "" && round == 0 {
			req.Messages = append(req.Messages, llm.Message{Role: "assistant", Content: input.Prefill})
		}

		stream, err := o.llm.Stream(ctx, req)
		if err != nil {
			o.publishAndEmitError(out, err)
			return
		}

		text, toolCalls, ephemeral, cancelled, streamErr := o.drainStream(stream, out)
		if cancelled {
			out <- TurnEvent{Kind: EventCancelled}
			return
		}
		if streamErr != nil {
			o.publishAndEmitError(out, streamErr)
			return
		}

		if len(toolCalls) == 0 {
			if ephemeral {
				out <- TurnEvent{Kind: EventDone, Ephemeral: true}
				o.bus.Publish(eventbus.AITypingEnd, nil)
				return
			}
			if err := o.sessionMgr.AppendMessage(sessions.Message{
				Role:      sessions.RoleAssistant,
				Content:   text,
				Timestamp: o.newTimestamp(),
			}); err != nil {
				o.publishAndEmitError(out, err)
				return
			}
			o.bus.Publish(eventbus.AITypingEnd, nil)
			o.bus.Publish(eventbus.MessageAdded, map[string]any{"role": "assistant"})
			out <- TurnEvent{Kind: EventDone}
			return
		}

		round++
		if round > MaxToolRounds {
			o.appendToolErrorTurn(history, toolCalls, "exceeded maximum tool-call rounds per turn")
			out <- TurnEvent{Kind: EventError, Err: sapphireerr.NewInput("exceeded maximum tool-call rounds per turn")}
			o.bus.Publish(eventbus.AITypingEnd, nil)
			return
		}

		assistantCalls := make([]sessions.ToolCall, 0, len(toolCalls))
		for _, tc := range toolCalls {
			assistantCalls = append(assistantCalls, sessions.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		if err := o.sessionMgr.AppendMessage(sessions.Message{
			Role:      sessions.RoleAssistant,
			Content:   text,
			ToolCalls: assistantCalls,
			Timestamp: o.newTimestamp(),
		}); err != nil {
			o.publishAndEmitError(out, err)
			return
		}

		history = append(history, llm.Message{Role: "assistant", Content: text, ToolCalls: toolCalls})

		for _, tc := range toolCalls {
			o.bus.Publish(eventbus.ToolExecuting, map[string]any{"name": tc.Name})
			result := o.dispatchTool(ctx, input.TurnNumber, tc)
			o.bus.Publish(eventbus.ToolComplete, map[string]any{"name": tc.Name, "success": result.Success})

			if err := o.sessionMgr.AppendMessage(sessions.Message{
				Role:       sessions.RoleTool,
				Content:    result.Content,
				Name:       tc.Name,
				ToolCallID: tc.ID,
				ToolInputs: tc.Arguments,
				Timestamp:  o.newTimestamp(),
			}); err != nil {
				o.publishAndEmitError(out, err)
				return
			}
			history = append(history, llm.Message{Role: "tool", ToolCallID: tc.ID, Content: result.Content})
		}
	}
}

func (o *Orchestrator) systemPrompt(turnNumber int) (string, error) {
	if o.promptBuild == nil {
		return "", nil
	}
	return o.promptBuild.BuildSystemPrompt(turnNumber)
}

func (o *Orchestrator) resolveTools(names []string) []llm.ToolDescriptor {
	descs, err := o.registry.ResolveEnabledFunctions(names, tools.ModeMonolith)
	if err != nil {
		return nil
	}
	out := make([]llm.ToolDescriptor, 0, len(descs))
	for _, d := range descs {
		out = append(out, llm.ToolDescriptor{Name: d.Name, Description: d.Description, Schema: d.Schema})
	}
	return out
}

// drainStream reads chunks from an LLM stream, forwarding text chunks to
// out, and accumulates the final assistant text and any tool calls.
func (o *Orchestrator) drainStream(stream <-chan llm.Chunk, out chan<- TurnEvent) (text string, calls []llm.ToolCallRequest, ephemeral bool, cancelled bool, err error) {
	for chunk := range stream {
		if o.cancelled.Load() {
			return "", nil, false, true, nil
		}
		if chunk.Error != nil {
			return "", nil, false, false, chunk.Error
		}
		if chunk.Text != "" {
			text += chunk.Text
			out <- TurnEvent{Kind: EventChunk, Chunk: chunk.Text}
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			ephemeral = chunk.Ephemeral
		}
	}
	return text, calls, ephemeral, false, nil
}

func (o *Orchestrator) dispatchTool(ctx context.Context, turnNumber int, tc llm.ToolCallRequest) tools.Result {
	var parsed json.RawMessage
	if err := json.Unmarshal([]byte(tc.Arguments), &parsed); err != nil {
		return tools.Result{Content: fmt.Sprintf("malformed tool arguments: %v", err), Success: false}
	}

	if o.stateTools != nil && o.stateTools.IsStateTool(tc.Name) {
		result, err := o.stateTools.ExecuteStateTool(ctx, turnNumber, tc.Name, parsed)
		if err != nil {
			return tools.Result{Content: err.Error(), Success: false}
		}
		return result
	}

	if _, ok := o.registry.Get(tc.Name); !ok {
		return tools.Result{Content: "unknown tool: " + tc.Name, Success: false}
	}
	result, err := o.registry.Execute(ctx, tc.Name, parsed)
	if err != nil {
		return tools.Result{Content: err.Error(), Success: false}
	}
	return result
}

func (o *Orchestrator) appendToolErrorTurn(history []llm.Message, calls []llm.ToolCallRequest, msg string) {
	for _, tc := range calls {
		_ = o.sessionMgr.AppendMessage(sessions.Message{
			Role:       sessions.RoleTool,
			Content:    msg,
			Name:       tc.Name,
			ToolCallID: tc.ID,
			Timestamp:  o.newTimestamp(),
		})
	}
}

func (o *Orchestrator) publishAndEmitError(out chan<- TurnEvent, err error) {
	o.bus.Publish(eventbus.LLMError, map[string]any{"error": err.Error()})
	out <- TurnEvent{Kind: EventError, Err: err}
}

func toLLMMessages(messages []sessions.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		msg := llm.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCallRequest{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		out = append(out, msg)
	}
	return out
}
