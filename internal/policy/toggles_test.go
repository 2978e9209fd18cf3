package policy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleStoreDefaultsToEnabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toggles.json")
	s, err := NewToggleStore(path)
	require.NoError(t, err)

	assert.True(t, s.IsToolEnabled("exec"))
	assert.True(t, s.IsSkillEnabled("anything"))
}

func TestToggleStoreDisableAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toggles.json")
	s, err := NewToggleStore(path)
	require.NoError(t, err)

	require.NoError(t, s.SetToolEnabled("exec", false))
	assert.False(t, s.IsToolEnabled("exec"))

	reloaded, err := NewToggleStore(path)
	require.NoError(t, err)
	assert.False(t, reloaded.IsToolEnabled("exec"))
	assert.True(t, reloaded.IsToolEnabled("read"))
}

func TestToggleStoreReEnableClearsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toggles.json")
	s, err := NewToggleStore(path)
	require.NoError(t, err)

	require.NoError(t, s.SetSkillEnabled("ghost", false))
	require.NoError(t, s.SetSkillEnabled("ghost", true))

	snap := s.Snapshot()
	_, present := snap.Skills["ghost"]
	assert.False(t, present)
}

func TestToggleStoreMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "toggles.json")
	s, err := NewToggleStore(path)
	require.NoError(t, err)
	assert.True(t, s.IsToolEnabled("exec"))
}
