package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapphire-ai/sapphire/internal/privacy"
)

func newRegistryWithTimeDate(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	fixed := time.Date(2026, 7, 31, 15, 0, 0, 0, time.UTC)
	require.NoError(t, r.Register(DescribeTimeDate(), NewTimeDateHandler(func() time.Time { return fixed })))
	r.RegisterModuleToolset("time_date", []string{"time_date"})
	return r
}

func TestExecuteDispatchesToHandler(t *testing.T) {
	r := newRegistryWithTimeDate(t)
	result, err := r.Execute(context.Background(), "time_date", json.RawMessage(`{"query":"time"}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Content, "It's")
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	result, err := r.Execute(context.Background(), "nope", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestExecuteRejectsInvalidArguments(t *testing.T) {
	r := newRegistryWithTimeDate(t)
	result, err := r.Execute(context.Background(), "time_date", json.RawMessage(`{"query": 5}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestSaveToolsetRefusesReservedNames(t *testing.T) {
	r := newRegistryWithTimeDate(t)
	err := r.SaveToolset(AllToolset, []string{"time_date"})
	require.Error(t, err)
	err = r.SaveToolset(NoneToolset, []string{"time_date"})
	require.Error(t, err)
}

func TestSaveToolsetRefusesModuleCollision(t *testing.T) {
	r := newRegistryWithTimeDate(t)
	err := r.SaveToolset("time_date", []string{"time_date"})
	require.Error(t, err)
}

func TestSaveToolsetValidatesFunctions(t *testing.T) {
	r := newRegistryWithTimeDate(t)
	err := r.SaveToolset("custom", []string{"does_not_exist"})
	require.Error(t, err)
}

func TestGetToolsetFunctionsAll(t *testing.T) {
	r := newRegistryWithTimeDate(t)
	names, err := r.GetToolsetFunctions(AllToolset)
	require.NoError(t, err)
	assert.Contains(t, names, "time_date")
}

func TestGetToolsetFunctionsNone(t *testing.T) {
	r := newRegistryWithTimeDate(t)
	names, err := r.GetToolsetFunctions(NoneToolset)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestResolveEnabledFunctionsFiltersByMode(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "only_assembled", Modes: []Mode{ModeAssembled}}, func(ctx context.Context, args json.RawMessage) (Result, error) {
		return Result{Success: true}, nil
	}))

	resolved, err := r.ResolveEnabledFunctions([]string{"only_assembled"}, ModeMonolith)
	require.NoError(t, err)
	assert.Empty(t, resolved)

	resolved, err = r.ResolveEnabledFunctions([]string{"only_assembled"}, ModeAssembled)
	require.NoError(t, err)
	assert.Len(t, resolved, 1)
}

func TestExecuteBlocksNetworkToolOutsideWhitelist(t *testing.T) {
	r := NewRegistry()
	called := false
	require.NoError(t, r.Register(Descriptor{Name: "web_fetch", Network: true}, func(ctx context.Context, args json.RawMessage) (Result, error) {
		called = true
		return Result{Success: true, Content: "fetched"}, nil
	}))
	gate := privacy.New(true)
	require.NoError(t, gate.SetWhitelist([]string{"127.0.0.1", "localhost"}))
	r.SetPrivacyGate(gate)

	result, err := r.Execute(context.Background(), "web_fetch", json.RawMessage(`{"url":"https://api.example.com/x"}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Content, "privacy gate blocked")
	assert.False(t, called)
}

func TestExecuteAllowsNetworkToolWithinWhitelist(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "web_fetch", Network: true}, func(ctx context.Context, args json.RawMessage) (Result, error) {
		return Result{Success: true, Content: "fetched"}, nil
	}))
	gate := privacy.New(true)
	require.NoError(t, gate.SetWhitelist([]string{"127.0.0.1", "localhost"}))
	r.SetPrivacyGate(gate)

	result, err := r.Execute(context.Background(), "web_fetch", json.RawMessage(`{"url":"http://localhost/x"}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestExecuteNetworkToolUnaffectedWhenPrivacyDisabled(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "web_fetch", Network: true}, func(ctx context.Context, args json.RawMessage) (Result, error) {
		return Result{Success: true, Content: "fetched"}, nil
	}))
	r.SetPrivacyGate(privacy.New(false))

	result, err := r.Execute(context.Background(), "web_fetch", json.RawMessage(`{"url":"https://api.example.com/x"}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestHasNetworkToolsEnabled(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "web_fetch", Network: true}, func(ctx context.Context, args json.RawMessage) (Result, error) {
		return Result{Success: true}, nil
	}))
	assert.True(t, r.HasNetworkToolsEnabled([]string{"web_fetch"}))
	assert.False(t, r.HasNetworkToolsEnabled([]string{"time_date"}))
}
