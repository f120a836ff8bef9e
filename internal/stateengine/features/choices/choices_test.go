package choices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAcceptsValidOption(t *testing.T) {
	m := NewManager([]Config{{ID: "c1", Options: []string{"left", "right"}, TargetKey: "path"}})
	key, value, err := m.Resolve("c1", "left")
	require.NoError(t, err)
	assert.Equal(t, "path", key)
	assert.Equal(t, "left", value)
	assert.True(t, m.IsResolved("c1"))
}

func TestResolveRejectsInvalidOption(t *testing.T) {
	m := NewManager([]Config{{ID: "c1", Options: []string{"left", "right"}, TargetKey: "path"}})
	_, _, err := m.Resolve("c1", "up")
	assert.Error(t, err)
	assert.False(t, m.IsResolved("c1"))
}

func TestBlockingSceneReportsUnresolvedGate(t *testing.T) {
	m := NewManager([]Config{{ID: "c1", Options: []string{"a", "b"}, TargetKey: "x", RequiredForScene: "2"}})
	_, blocked := m.BlockingScene("2")
	assert.True(t, blocked)

	_, _, err := m.Resolve("c1", "a")
	require.NoError(t, err)
	_, blocked = m.BlockingScene("2")
	assert.False(t, blocked)
}

func TestPendingExcludesResolved(t *testing.T) {
	m := NewManager([]Config{{ID: "c1", Options: []string{"a"}, TargetKey: "x"}, {ID: "c2", Options: []string{"b"}, TargetKey: "y"}})
	_, _, _ = m.Resolve("c1", "a")
	pending := m.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "c2", pending[0].ID)
}
