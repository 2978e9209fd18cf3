package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMeta(t *testing.T, root, name, meta string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFilenameYAML), []byte(meta), 0o644))
}

func TestManagerWorkspaceOverridesBuiltin(t *testing.T) {
	workspace := t.TempDir()
	builtin := t.TempDir()

	writeMeta(t, builtin, "greeter", "name: greeter\ndescription: built-in greeter\n")
	writeMeta(t, workspace, "greeter", "name: greeter\ndescription: workspace greeter\n")

	m := NewManager(workspace, builtin, nil)
	_, err := m.ReloadSkills(context.Background())
	require.NoError(t, err)

	skill, ok := m.GetSkill("greeter")
	require.True(t, ok)
	assert.Equal(t, "workspace greeter", skill.Description)
	assert.Equal(t, SourceWorkspace, skill.Source)
}

func TestManagerReloadReportsNewSkills(t *testing.T) {
	workspace := t.TempDir()
	m := NewManager(workspace, "", nil)

	names, err := m.ReloadSkills(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)

	writeMeta(t, workspace, "new-skill", "name: new-skill\ndescription: freshly added\n")
	names, err = m.ReloadSkills(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"new-skill"}, names)

	names, err = m.ReloadSkills(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestManagerUnavailableSkillListedButNotMatched(t *testing.T) {
	workspace := t.TempDir()
	writeMeta(t, workspace, "needs-tool", `
name: needs-tool
description: requires a missing binary
triggers:
  - "run the thing"
requires:
  bins: ["definitely-not-a-real-binary-xyz"]
`)

	m := NewManager(workspace, "", nil)
	_, err := m.ReloadSkills(context.Background())
	require.NoError(t, err)

	all := m.ListAll()
	require.Len(t, all, 1)
	assert.False(t, all[0].Available)

	_, matched := m.MatchTrigger("please run the thing now")
	assert.False(t, matched)
}

func TestManagerMatchTriggerFirstMatchWins(t *testing.T) {
	workspace := t.TempDir()
	writeMeta(t, workspace, "aaa-skill", "name: aaa-skill\ndescription: first\ntriggers:\n  - \"help\"\n")
	writeMeta(t, workspace, "zzz-skill", "name: zzz-skill\ndescription: second\ntriggers:\n  - \"help\"\n")

	m := NewManager(workspace, "", nil)
	_, err := m.ReloadSkills(context.Background())
	require.NoError(t, err)

	skill, ok := m.MatchTrigger("I need help please")
	require.True(t, ok)
	assert.Equal(t, "aaa-skill", skill.Name)
}

func TestManagerSyncCapabilitiesResolvesAvailability(t *testing.T) {
	workspace := t.TempDir()
	writeMeta(t, workspace, "capped", `
name: capped
description: needs a capability
capabilities:
  - "custom.thing"
`)

	m := NewManager(workspace, "", nil)
	_, err := m.ReloadSkills(context.Background())
	require.NoError(t, err)

	skill, _ := m.GetSkill("capped")
	assert.False(t, skill.Available)
	assert.Equal(t, []string{"custom.thing"}, m.GetMissingCapabilities())

	m.SyncCapabilities([]string{"custom.thing"})
	skill, _ = m.GetSkill("capped")
	assert.True(t, skill.Available)
	assert.Empty(t, m.GetMissingCapabilities())
}

func TestManagerAlwaysOnSkipsUnavailable(t *testing.T) {
	workspace := t.TempDir()
	writeMeta(t, workspace, "always-ready", "name: always-ready\ndescription: on\nalways: true\n")
	writeMeta(t, workspace, "always-broken", `
name: always-broken
description: on but broken
always: true
requires:
  bins: ["definitely-not-a-real-binary-xyz"]
`)

	m := NewManager(workspace, "", nil)
	_, err := m.ReloadSkills(context.Background())
	require.NoError(t, err)

	always := m.AlwaysOn()
	require.Len(t, always, 1)
	assert.Equal(t, "always-ready", always[0].Name)
}
