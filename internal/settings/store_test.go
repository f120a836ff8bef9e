package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewOnMissingFileStartsEmpty(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	_, ok := s.Get("anything")
	require.False(t, ok)
}

func TestSetThenGetSeesOwnWriteImmediately(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	require.NoError(t, s.Set("llm.claude.api_key", "sk-test"))
	v, ok := s.Get("llm.claude.api_key")
	require.True(t, ok)
	require.Equal(t, "sk-test", v)
}

func TestResolveProviderAPIKeyFallsBackToEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	s, err := New(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	require.Equal(t, "env-key", s.ResolveProviderAPIKey("claude"))
}

func TestResolveProviderAPIKeyPrefersStoredValue(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	s, err := New(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	require.NoError(t, s.Set("llm.claude.api_key", "stored-key"))

	require.Equal(t, "stored-key", s.ResolveProviderAPIKey("claude"))
}

func TestMaybeReloadPicksUpExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"k":"v1"}`), 0o600))

	s, err := New(path)
	require.NoError(t, err)
	v, _ := s.Get("k")
	require.Equal(t, "v1", v)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"k":"v2"}`), 0o600))

	s.mu.Lock()
	s.lastPoll = time.Time{}
	s.mu.Unlock()
	s.MaybeReload()

	v, _ = s.Get("k")
	require.Equal(t, "v2", v)
}
