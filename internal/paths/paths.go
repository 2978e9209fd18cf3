// Package paths resolves the on-disk workspace layout for process
// state: config, memory, cron jobs, skills, capability artifacts and
// their version history, evolution records, toggles, and transient
// media. No other package calls it: cmd/conduit builds its paths from
// the workspace root directly, with memory.db and cron_jobs.json placed
// at the root rather than at MemoryDB and CronJobs.
package paths

import "path/filepath"

// Paths is the resolved workspace layout rooted at a single directory.
// It holds only strings and can be passed by value.
type Paths struct {
	Root string
}

// New resolves a Paths rooted at root. An empty root defaults to the
// current directory, matching the teacher's workspace-path fallback.
func New(root string) Paths {
	if root == "" {
		root = "."
	}
	return Paths{Root: root}
}

// Config returns the path to config.json.
func (p Paths) Config() string { return filepath.Join(p.Root, "config.json") }

// MemoryDB returns the path to the FTS-indexed memory database.
func (p Paths) MemoryDB() string { return filepath.Join(p.Root, "memory", "memory.db") }

// CronJobs returns the path to the cron job store.
func (p Paths) CronJobs() string { return filepath.Join(p.Root, "cron", "jobs.json") }

// Skills returns the workspace skills root (overrides builtin skills).
func (p Paths) Skills() string { return filepath.Join(p.Root, "skills") }

// BuiltinSkills returns the read-only builtin skills root.
func (p Paths) BuiltinSkills() string { return filepath.Join(p.Root, "builtin_skills") }

// SkillDir returns the directory for a single named skill.
func (p Paths) SkillDir(name string) string { return filepath.Join(p.Skills(), name) }

// ToolArtifacts returns the directory holding active capability artifacts.
func (p Paths) ToolArtifacts() string { return filepath.Join(p.Root, "tool_artifacts") }

// ToolArtifact returns the active artifact path for a capability id, given
// its file extension (without the leading dot).
func (p Paths) ToolArtifact(capID, ext string) string {
	return filepath.Join(p.ToolArtifacts(), capID+"."+ext)
}

// ToolVersions returns the root directory for capability version snapshots.
func (p Paths) ToolVersions() string { return filepath.Join(p.Root, "tool_versions") }

// ToolVersionDir returns the snapshot directory for one capability id.
func (p Paths) ToolVersionDir(capID string) string { return filepath.Join(p.ToolVersions(), capID) }

// EvolutionRecords returns the directory holding per-evolution-record JSON.
func (p Paths) EvolutionRecords() string { return filepath.Join(p.Root, "evolution_records") }

// EvolutionRecord returns the path to one evolution record.
func (p Paths) EvolutionRecord(id string) string {
	return filepath.Join(p.EvolutionRecords(), id+".json")
}

// Toggles returns the path to the tool/skill disablement map.
func (p Paths) Toggles() string { return filepath.Join(p.Root, "toggles.json") }

// Media returns the transient media directory, subject to ghost cleanup.
func (p Paths) Media() string { return filepath.Join(p.Root, "media") }

// Downloads returns the transient downloads directory.
func (p Paths) Downloads() string { return filepath.Join(p.Root, "downloads") }

// Sandbox returns a scratch directory for one evolution sandbox run,
// scoped under the workspace so artifacts never escape it.
func (p Paths) Sandbox(evolutionID string) string {
	return filepath.Join(p.Root, ".sandbox", evolutionID)
}
