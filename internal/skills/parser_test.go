package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkillDir(t *testing.T, dir string, meta string, prompt string, script string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFilenameYAML), []byte(meta), 0o644))
	if prompt != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, SkillPromptFilename), []byte(prompt), 0o644))
	}
	if script != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, SkillScriptFilename), []byte(script), 0o644))
	}
}

func TestLoadSkillDirYAML(t *testing.T) {
	dir := t.TempDir()
	writeSkillDir(t, dir, `
name: git-helper
description: Helps with git operations
always: true
triggers:
  - "git commit"
  - "git push"
capabilities:
  - "vcs.commit"
requires:
  bins: ["git"]
  env: ["HOME"]
`, "# Git Helper\n\nUse git responsibly.", "")

	skill, err := LoadSkillDir(dir, SourceWorkspace)
	require.NoError(t, err)
	assert.Equal(t, "git-helper", skill.Name)
	assert.True(t, skill.Always)
	assert.Equal(t, []string{"git commit", "git push"}, skill.Triggers)
	assert.Equal(t, []string{"vcs.commit"}, skill.Capabilities)
	assert.Equal(t, []string{"git"}, skill.Requires.Bins)
	assert.Contains(t, skill.Prompt, "Git Helper")
	assert.False(t, skill.HasOrchestrate)
	assert.Equal(t, SourceWorkspace, skill.Source)
}

func TestLoadSkillDirJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFilenameJSON), []byte(`{"name":"echo","description":"echoes input"}`), 0o644))

	skill, err := LoadSkillDir(dir, SourceBuiltin)
	require.NoError(t, err)
	assert.Equal(t, "echo", skill.Name)
	assert.Equal(t, SourceBuiltin, skill.Source)
}

func TestLoadSkillDirWithOrchestrationScript(t *testing.T) {
	dir := t.TempDir()
	writeSkillDir(t, dir, "name: scripted\ndescription: runs a script\n", "", "fn run() { return 1; }")

	skill, err := LoadSkillDir(dir, SourceWorkspace)
	require.NoError(t, err)
	assert.True(t, skill.HasOrchestrate)
	assert.Contains(t, skill.Orchestrate, "fn run()")
}

func TestLoadSkillDirMissingMetaFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, err := LoadSkillDir(dir, SourceWorkspace)
	assert.Error(t, err)
}

func TestLoadSkillDirMissingRequiredFieldFails(t *testing.T) {
	dir := t.TempDir()
	writeSkillDir(t, dir, "name: nodesc\n", "", "")

	_, err := LoadSkillDir(dir, SourceWorkspace)
	assert.Error(t, err)
}

func TestMatchesTriggerCaseInsensitive(t *testing.T) {
	skill := &Skill{Meta: Meta{Triggers: []string{"Deploy To Prod"}}}
	assert.True(t, skill.MatchesTrigger("please deploy to prod now"))
	assert.False(t, skill.MatchesTrigger("deploy to staging"))
}
