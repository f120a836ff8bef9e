package api

import (
	"context"
	"testing"

	"github.com/sapphire-ai/sapphire/internal/chatorchestrator"
	"github.com/sapphire-ai/sapphire/internal/continuity"
	"github.com/sapphire-ai/sapphire/internal/eventbus"
	"github.com/sapphire-ai/sapphire/internal/llm"
	"github.com/sapphire-ai/sapphire/internal/privacy"
	"github.com/sapphire-ai/sapphire/internal/sessions"
	"github.com/sapphire-ai/sapphire/internal/tools"
)

// echoClient replies with a single text chunk that echoes the last user
// message, so tests can assert on the round trip without a scripted
// response sequence.
type echoClient struct{}

func (echoClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	ch := make(chan llm.Chunk, 2)
	ch <- llm.Chunk{Text: "echo:" + last}
	ch <- llm.Chunk{Done: true}
	close(ch)
	return ch, nil
}

type noopExecutor struct{}

func (noopExecutor) RunEphemeral(ctx context.Context, task *continuity.Task) error  { return nil }
func (noopExecutor) RunForeground(ctx context.Context, task *continuity.Task) error { return nil }

func newTestHandler(t *testing.T) (*Handler, *sessions.Manager, *tools.Registry, *continuity.Scheduler) {
	t.Helper()
	mgr, err := sessions.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	registry := tools.NewRegistry()
	bus := eventbus.New()
	orch := chatorchestrator.New(echoClient{}, registry, mgr, bus, nil, nil, "claude-sonnet")
	sched := continuity.New(noopExecutor{}, bus)
	gate := privacy.New(false)

	h, err := NewHandler(&Config{
		Sessions:     mgr,
		Tools:        registry,
		Orchestrator: orch,
		Scheduler:    sched,
		Privacy:      gate,
		Bus:          bus,
		APIKey:       "test-key",
	})
	if err != nil {
		t.Fatal(err)
	}
	return h, mgr, registry, sched
}
