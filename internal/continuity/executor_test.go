package continuity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapphire-ai/sapphire/internal/chatorchestrator"
	"github.com/sapphire-ai/sapphire/internal/eventbus"
	"github.com/sapphire-ai/sapphire/internal/llm"
	"github.com/sapphire-ai/sapphire/internal/sessions"
	"github.com/sapphire-ai/sapphire/internal/tools"
)

// echoClient replies with a single text chunk that echoes the last user
// message it was given, so tests can assert on what input reached the LLM
// without scripting a fixed response sequence.
type echoClient struct {
	seen []string
}

func (c *echoClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	c.seen = append(c.seen, last)
	ch := make(chan llm.Chunk, 2)
	ch <- llm.Chunk{Text: "reply:" + last}
	ch <- llm.Chunk{Done: true}
	close(ch)
	return ch, nil
}

// erroringClient always streams a chunk-level error, so tests can force
// RunForeground/RunEphemeral down their error path deterministically.
type erroringClient struct{}

func (erroringClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{Error: assert.AnError}
	close(ch)
	return ch, nil
}

func newExecutorTestSetup(t *testing.T) (*OrchestratorExecutor, *sessions.Manager, *echoClient) {
	t.Helper()
	mgr, err := sessions.NewManager(t.TempDir())
	require.NoError(t, err)

	client := &echoClient{}
	registry := tools.NewRegistry()
	bus := eventbus.New()
	orch := chatorchestrator.New(client, registry, mgr, bus, nil, nil, "claude-sonnet")

	newEphemeral := func(isolatedMgr *sessions.Manager) *chatorchestrator.Orchestrator {
		return chatorchestrator.New(client, registry, isolatedMgr, bus, nil, nil, "claude-sonnet")
	}

	exec := NewOrchestratorExecutor(mgr, orch, newEphemeral, bus, nil)
	return exec, mgr, client
}

func TestRunEphemeralDoesNotMutateActiveSession(t *testing.T) {
	exec, mgr, client := newExecutorTestSetup(t)
	before := len(mgr.GetMessages())

	task := &Task{ID: "t1", Iterations: 3, InitialMessage: "begin the story"}
	require.NoError(t, exec.RunEphemeral(context.Background(), task))

	assert.Len(t, mgr.GetMessages(), before)
	require.Len(t, client.seen, 3)
	assert.Equal(t, "begin the story", client.seen[0])
	assert.Equal(t, continueToken, client.seen[1])
	assert.Equal(t, continueToken, client.seen[2])
}

func TestRunEphemeralSkipsIterationsOnFailedRoll(t *testing.T) {
	exec, _, client := newExecutorTestSetup(t)
	exec.rollFunc = func() int { return 100 }

	task := &Task{ID: "t1", Iterations: 2, InitialMessage: "begin", Chance: 1}
	require.NoError(t, exec.RunEphemeral(context.Background(), task))

	assert.Empty(t, client.seen)
}

func TestRunForegroundSwitchesChatAndRestoresOriginal(t *testing.T) {
	exec, mgr, client := newExecutorTestSetup(t)
	require.NoError(t, mgr.SetActiveChat("default"))
	_, err := mgr.CreateChat("other")
	require.NoError(t, err)
	require.NoError(t, mgr.SetActiveChat("default"))

	task := &Task{ID: "t1", ChatTarget: "other", InitialMessage: "hello there"}
	require.NoError(t, exec.RunForeground(context.Background(), task))

	assert.Equal(t, "default", mgr.ActiveChatName())
	require.Len(t, client.seen, 1)
	assert.Equal(t, "hello there", client.seen[0])
}

func TestRunForegroundCreatesMissingTargetChat(t *testing.T) {
	exec, mgr, client := newExecutorTestSetup(t)
	require.NoError(t, mgr.SetActiveChat("default"))

	task := &Task{ID: "t1", ChatTarget: "brand-new", InitialMessage: "hello"}
	require.NoError(t, exec.RunForeground(context.Background(), task))

	assert.Equal(t, "default", mgr.ActiveChatName())
	assert.Len(t, client.seen, 1)

	chats, err := mgr.ListChatFiles()
	require.NoError(t, err)
	assert.Contains(t, chats, "brand_new")
}

func TestRunForegroundRestoresOriginalChatEvenOnError(t *testing.T) {
	mgr, err := sessions.NewManager(t.TempDir())
	require.NoError(t, err)
	_, err = mgr.CreateChat("broken")
	require.NoError(t, err)

	registry := tools.NewRegistry()
	bus := eventbus.New()
	orch := chatorchestrator.New(erroringClient{}, registry, mgr, bus, nil, nil, "claude-sonnet")
	exec := NewOrchestratorExecutor(mgr, orch, nil, bus, nil)

	require.NoError(t, mgr.SetActiveChat("default"))

	task := &Task{ID: "t1", ChatTarget: "broken", InitialMessage: "hello"}
	err = exec.RunForeground(context.Background(), task)
	require.Error(t, err)

	assert.Equal(t, "default", mgr.ActiveChatName())
}

func TestRunForegroundLoopsIterationsLikeEphemeral(t *testing.T) {
	exec, mgr, client := newExecutorTestSetup(t)
	require.NoError(t, mgr.SetActiveChat("default"))
	_, err := mgr.CreateChat("other")
	require.NoError(t, err)
	require.NoError(t, mgr.SetActiveChat("default"))

	task := &Task{ID: "t1", ChatTarget: "other", Iterations: 3, InitialMessage: "begin the story"}
	require.NoError(t, exec.RunForeground(context.Background(), task))

	require.Len(t, client.seen, 3)
	assert.Equal(t, "begin the story", client.seen[0])
	assert.Equal(t, continueToken, client.seen[1])
	assert.Equal(t, continueToken, client.seen[2])
}

func TestRunForegroundSkipsIterationsOnFailedRoll(t *testing.T) {
	exec, mgr, client := newExecutorTestSetup(t)
	exec.rollFunc = func() int { return 100 }
	require.NoError(t, mgr.SetActiveChat("default"))
	_, err := mgr.CreateChat("other")
	require.NoError(t, err)
	require.NoError(t, mgr.SetActiveChat("default"))

	task := &Task{ID: "t1", ChatTarget: "other", Iterations: 2, Chance: 1, InitialMessage: "begin"}
	require.NoError(t, exec.RunForeground(context.Background(), task))

	assert.Empty(t, client.seen)
}

func TestRunEphemeralDefaultsToOneIterationWhenUnset(t *testing.T) {
	exec, _, client := newExecutorTestSetup(t)

	task := &Task{ID: "t1", InitialMessage: "solo run"}
	require.NoError(t, exec.RunEphemeral(context.Background(), task))

	require.Len(t, client.seen, 1)
	assert.Equal(t, "solo run", client.seen[0])
}
