package stateengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapphire-ai/sapphire/internal/stateengine/features/choices"
	"github.com/sapphire-ai/sapphire/internal/stateengine/features/navigation"
	"github.com/sapphire-ai/sapphire/internal/stateengine/features/riddles"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func ptr(f float64) *float64 { return &f }

func TestSetStateRejectsAIWriteToReservedKey(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", ""))

	ok, msg, err := e.SetState(context.Background(), "_visited_rooms", "x", "ai", 1, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, msg, "reserved")
}

func TestSetStateEnforcesMinMax(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterPreset(&Preset{Name: "p1", Variables: map[string]Constraints{"hp": {Min: ptr(0), Max: ptr(10)}}})
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", "p1"))

	ok, _, err := e.SetState(context.Background(), "hp", "5", "ai", 1, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, msg, err := e.SetState(context.Background(), "hp", "20", "ai", 2, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, msg, "maximum")
}

func TestSetStateEnforcesAdjacent(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterPreset(&Preset{Name: "p1", Variables: map[string]Constraints{"mood": {Adjacent: ptr(2)}}})
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", "p1"))

	_, _, err := e.SetState(context.Background(), "mood", "5", "ai", 1, "")
	require.NoError(t, err)

	ok, msg, err := e.SetState(context.Background(), "mood", "9", "ai", 2, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, msg, "away")
}

func TestSetStateBlockerRefusesTransitionWhenRequirementUnmet(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterPreset(&Preset{Name: "p1", Variables: map[string]Constraints{
		"door": {Blockers: []Blocker{{Target: []string{"open"}, Requires: map[string]string{"has_key": "true"}, Message: "the door is locked"}}},
	}})
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", "p1"))

	ok, msg, err := e.SetState(context.Background(), "door", "open", "ai", 1, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "the door is locked", msg)

	_, _, err = e.SetState(context.Background(), "has_key", "true", "ai", 2, "")
	require.NoError(t, err)
	ok, _, err = e.SetState(context.Background(), "door", "open", "ai", 3, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetStateHonorsVisibleFrom(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterPreset(&Preset{Name: "p1", Variables: map[string]Constraints{"secret": {VisibleFrom: ptr(5)}}})
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", "p1"))
	_, _, err := e.SetState(context.Background(), "secret", "42", "ai", 1, "")
	require.NoError(t, err)

	assert.Contains(t, e.GetState("secret", 2), "not set")
	assert.Equal(t, "42", e.GetState("secret", 5))
}

func TestRollDiceBoundsAndLogsLastRoll(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", ""))
	rolls, err := e.RollDice(context.Background(), 3, 6, 1)
	require.NoError(t, err)
	assert.Len(t, rolls, 3)
	for _, r := range rolls {
		assert.GreaterOrEqual(t, r, 1)
		assert.LessOrEqual(t, r, 6)
	}

	_, err = e.RollDice(context.Background(), 0, 6, 1)
	assert.Error(t, err)
}

func TestRollbackToTurnRemovesLaterWrites(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", ""))
	_, _, err := e.SetState(context.Background(), "hp", "10", "ai", 1, "")
	require.NoError(t, err)
	_, _, err = e.SetState(context.Background(), "hp", "3", "ai", 2, "")
	require.NoError(t, err)

	require.NoError(t, e.RollbackToTurn(context.Background(), 1))
	assert.Equal(t, "10", e.GetState("hp", 5))
}

func TestMoveResolvesAliasAndTracksVisited(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterPreset(&Preset{
		Name: "p1", Iterator: "room", StartRoom: "hall",
		Connections: navigation.Map{"hall": {"north": "library"}},
	})
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", "p1"))

	dest, err := e.Move(context.Background(), "n", 1, "")
	require.NoError(t, err)
	assert.Equal(t, "library", dest)
	assert.Equal(t, "library", e.GetState("room", 1))
	assert.Contains(t, e.GetState("_visited_rooms", 1), "library")
}

func TestMakeChoiceWritesTargetKeyAndUnblocks(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterPreset(&Preset{
		Name: "p1", Iterator: "scene",
		Choices: []choices.Config{{ID: "c1", Options: []string{"left", "right"}, TargetKey: "path", RequiredForScene: "2"}},
	})
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", "p1"))

	msg, err := e.MakeChoice(context.Background(), "c1", "left", 1, "")
	require.NoError(t, err)
	assert.Contains(t, msg, "left")
	assert.Equal(t, "left", e.GetState("path", 1))

	ok, _, err := e.SetState(context.Background(), "scene", "2", "ai", 2, "advance")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetStateRefusesAdvanceIntoScenePendingOnChoice(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterPreset(&Preset{
		Name: "p1", Iterator: "scene",
		Variables: map[string]Constraints{"scene": {Min: ptr(1), Max: ptr(5)}},
		Choices:   []choices.Config{{ID: "C1", Prompt: "left or right?", Options: []string{"left", "right"}, TargetKey: "path", RequiredForScene: "3"}},
	})
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", "p1"))
	_, _, err := e.SetState(context.Background(), "scene", "1", "ai", 1, "")
	require.NoError(t, err)

	ok, msg, err := e.SetState(context.Background(), "scene", "3", "ai", 2, "advance")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, msg, "C1")
	assert.Equal(t, "1", e.GetState("scene", 2))

	_, err = e.MakeChoice(context.Background(), "C1", "left", 3, "")
	require.NoError(t, err)

	ok, _, err = e.SetState(context.Background(), "scene", "3", "ai", 4, "advance")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAttemptRiddleLocksAfterMaxAttempts(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterPreset(&Preset{
		Name: "p1",
		Riddles: []riddles.Config{{ID: "r1", Kind: riddles.KindFixed, FixedAnswer: "sesame", MaxAttempts: 2}},
	})
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", "p1"))

	msg, err := e.AttemptRiddle(context.Background(), "r1", "wrong", 1)
	require.NoError(t, err)
	assert.Equal(t, "✗ incorrect; 1 attempts remaining", msg)

	msg, err = e.AttemptRiddle(context.Background(), "r1", "wrong again", 2)
	require.NoError(t, err)
	assert.Contains(t, msg, "locked")

	msg, err = e.AttemptRiddle(context.Background(), "r1", "sesame", 3)
	require.NoError(t, err)
	assert.Equal(t, "this riddle is locked", msg)
}

func TestAttemptRiddleSucceedsOnCorrectAnswer(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterPreset(&Preset{
		Name:    "p1",
		Riddles: []riddles.Config{{ID: "r1", Kind: riddles.KindFixed, FixedAnswer: "sesame", MaxAttempts: 3}},
	})
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", "p1"))

	msg, err := e.AttemptRiddle(context.Background(), "r1", "sesame", 1)
	require.NoError(t, err)
	assert.Equal(t, "correct", msg)
}

func TestBuildSystemPromptIncludesCumulativeSegments(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterPreset(&Preset{
		Name: "p1", Base: "You are the narrator.", Iterator: "scene", Mode: ModeCumulative,
		Segments: map[string]string{
			"1": "Scene one text.",
			"2": "Scene two text.",
		},
	})
	require.NoError(t, e.SetActiveChat(context.Background(), "c1", "p1"))
	_, _, err := e.SetState(context.Background(), "scene", "2", "ai", 1, "")
	require.NoError(t, err)

	prompt, err := e.BuildSystemPrompt(1)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Scene one text.")
	assert.Contains(t, prompt, "Scene two text.")
}
