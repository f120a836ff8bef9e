package continuity

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/sapphire-ai/sapphire/internal/chatorchestrator"
	"github.com/sapphire-ai/sapphire/internal/eventbus"
	"github.com/sapphire-ai/sapphire/internal/sapphireerr"
	"github.com/sapphire-ai/sapphire/internal/sessions"
)

// continueToken is the literal input used for every iteration after the
// first, in both ephemeral and foreground runs.
const continueToken = "[continue]"

// OrchestratorFactory builds a fresh orchestrator bound to mgr, for the
// isolated session an ephemeral task iterates against.
type OrchestratorFactory func(mgr *sessions.Manager) *chatorchestrator.Orchestrator

// TTSPlayer is invoked for each iteration's assistant reply when a task has
// TTS enabled. It is a narrow interface so the executor does not depend on
// any particular speech backend.
type TTSPlayer interface {
	Speak(ctx context.Context, text string) error
}

// OrchestratorExecutor is the real Executor implementation: ephemeral tasks
// run against a throwaway file-backed session in a temp directory (so the
// isolated context never touches the real chat store); foreground tasks
// run task.Iterations turns against the named chat and always restore the
// previously active chat afterward.
type OrchestratorExecutor struct {
	mgr          *sessions.Manager
	orchestrator *chatorchestrator.Orchestrator
	newEphemeral OrchestratorFactory
	bus          *eventbus.Bus
	tts          TTSPlayer
	now          func() time.Time
	rollFunc     func() int // returns a uniform roll in [1, 100]
}

// NewOrchestratorExecutor builds an Executor. mgr/orchestrator back
// foreground tasks; newEphemeral constructs the isolated orchestrator for
// ephemeral tasks, given a freshly created temp-directory session manager.
func NewOrchestratorExecutor(mgr *sessions.Manager, orchestrator *chatorchestrator.Orchestrator, newEphemeral OrchestratorFactory, bus *eventbus.Bus, tts TTSPlayer) *OrchestratorExecutor {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &OrchestratorExecutor{
		mgr: mgr, orchestrator: orchestrator, newEphemeral: newEphemeral, bus: bus, tts: tts,
		now:      time.Now,
		rollFunc: func() int { return 1 + src.Intn(100) },
	}
}

// RunEphemeral runs task.Iterations rounds against an isolated chat context
// that never mutates the active session. No UI-visible events fire.
func (e *OrchestratorExecutor) RunEphemeral(ctx context.Context, task *Task) error {
	tempDir, err := os.MkdirTemp("", "sapphire-continuity-*")
	if err != nil {
		return fmt.Errorf("create ephemeral chat dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	isolatedMgr, err := sessions.NewManager(tempDir)
	if err != nil {
		return fmt.Errorf("create ephemeral session: %w", err)
	}
	orch := e.newEphemeral(isolatedMgr)

	iterations := task.Iterations
	if iterations <= 0 {
		iterations = 1
	}

	for i := 0; i < iterations; i++ {
		if i > 0 && task.CooldownMinutes > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(task.CooldownMinutes) * time.Minute):
			}
		}

		roll := e.rollFunc()
		if task.Chance < 100 && roll > task.Chance {
			continue
		}

		input := continueToken
		if i == 0 {
			input = task.InitialMessage
		}

		reply, err := e.runTurnAndCollect(ctx, orch, input)
		if err != nil {
			return err
		}
		if task.TTSEnabled && e.tts != nil && reply != "" {
			if err := e.tts.Speak(ctx, reply); err != nil {
				return fmt.Errorf("tts playback: %w", err)
			}
		}
	}
	return nil
}

// RunForeground runs task.Iterations turns against task.ChatTarget (created
// if it does not already exist) through the ordinary orchestrator pipeline,
// the same chance-roll/cooldown/continue-token structure RunEphemeral uses,
// restoring the previously active chat afterward regardless of outcome.
func (e *OrchestratorExecutor) RunForeground(ctx context.Context, task *Task) error {
	original := e.mgr.ActiveChatName()
	defer func() {
		if original == "" {
			return
		}
		_ = e.mgr.SetActiveChat(original)
		if e.bus != nil {
			e.bus.Publish(eventbus.ChatSwitched, map[string]any{"chat": original})
		}
	}()

	if err := e.mgr.SetActiveChat(task.ChatTarget); err != nil {
		if !sapphireerr.Is(err, sapphireerr.NotFound) {
			return fmt.Errorf("switch to target chat: %w", err)
		}
		if _, err := e.mgr.CreateChat(task.ChatTarget); err != nil {
			return fmt.Errorf("create target chat: %w", err)
		}
		if err := e.mgr.SetActiveChat(task.ChatTarget); err != nil {
			return fmt.Errorf("switch to newly created target chat: %w", err)
		}
	}

	if err := e.applyTaskSettings(task); err != nil {
		return fmt.Errorf("apply task settings: %w", err)
	}

	iterations := task.Iterations
	if iterations <= 0 {
		iterations = 1
	}

	for i := 0; i < iterations; i++ {
		if i > 0 && task.CooldownMinutes > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(task.CooldownMinutes) * time.Minute):
			}
		}

		roll := e.rollFunc()
		if task.Chance < 100 && roll > task.Chance {
			continue
		}

		input := continueToken
		if i == 0 {
			input = task.InitialMessage
		}

		reply, err := e.runTurnAndCollect(ctx, e.orchestrator, input)
		if err != nil {
			return err
		}
		if task.TTSEnabled && e.tts != nil && reply != "" {
			if err := e.tts.Speak(ctx, reply); err != nil {
				return fmt.Errorf("tts playback: %w", err)
			}
		}
	}
	return nil
}

// applyTaskSettings shallow-merges the task's non-zero settings fields onto
// the (now active) target chat.
func (e *OrchestratorExecutor) applyTaskSettings(task *Task) error {
	return e.mgr.UpdateChatSettings(func(s *sessions.Settings) {
		if task.Prompt != "" {
			s.Prompt = task.Prompt
		}
		if task.Toolset != "" {
			s.Toolset = task.Toolset
		}
		if task.Provider != "" {
			s.Provider = task.Provider
		}
		if task.Model != "" {
			s.Model = task.Model
		}
		if task.MemoryScope != "" {
			s.MemoryScope = task.MemoryScope
		}
		s.InjectDatetime = task.InjectDatetime
	})
}

// runTurnAndCollect drives one full StreamTurn to completion and returns
// the concatenated text of the final assistant reply.
func (e *OrchestratorExecutor) runTurnAndCollect(ctx context.Context, orch *chatorchestrator.Orchestrator, text string) (string, error) {
	events, err := orch.StreamTurn(ctx, chatorchestrator.TurnInput{Text: text})
	if err != nil {
		return "", err
	}
	var reply string
	for ev := range events {
		switch ev.Kind {
		case chatorchestrator.EventChunk:
			reply += ev.Chunk
		case chatorchestrator.EventError:
			return reply, ev.Err
		case chatorchestrator.EventCancelled:
			return reply, fmt.Errorf("turn cancelled")
		}
	}
	return reply, nil
}
