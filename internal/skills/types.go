// Package skills implements the Skill Manager (C5): directory-scanned
// behavior bundles consisting of a prompt, an optional orchestration
// script, trigger phrases, and declared capability dependencies.
// Adapted from the teacher's internal/skills package (SkillEntry,
// SkillMetadata, DiscoverySource, GatingContext, fsnotify-based
// Manager), trimmed to the spec's simpler two-root model (workspace
// overrides built-in; no git/registry remote sources) and extended
// with the fields and availability rules SPEC_FULL.md §3/§4.4 name:
// triggers, capabilities, fallback, and capability-presence gating.
package skills

import (
	"strings"
)

// Filenames that make up a skill directory (SPEC_FULL.md §3).
const (
	MetaFilenameYAML    = "meta.yaml"
	MetaFilenameJSON    = "meta.json"
	SkillScriptFilename = "SKILL.rhai"
	SkillPromptFilename = "SKILL.md"
	TestsDir            = "tests"
)

// SourceType distinguishes the two roots the spec names. Workspace
// entries override built-in entries of the same name.
type SourceType string

const (
	SourceBuiltin   SourceType = "builtin"
	SourceWorkspace SourceType = "workspace"
)

// Requires lists the availability preconditions for a skill
// (SPEC_FULL.md §3: "requires.bins, requires.env").
type Requires struct {
	Bins []string `yaml:"bins,omitempty" json:"bins,omitempty"`
	Env  []string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Meta is the parsed content of meta.{yaml,json}.
type Meta struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	Always       bool     `yaml:"always,omitempty" json:"always,omitempty"`
	Triggers     []string `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Requires     Requires `yaml:"requires,omitempty" json:"requires,omitempty"`
	Fallback     string   `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// Skill is a fully loaded skill: its meta, the resolved directory it
// was read from, its optional orchestration script and prompt body,
// and the source root it was discovered under.
type Skill struct {
	Meta
	Path           string
	Source         SourceType
	HasOrchestrate bool   // true when SKILL.rhai is present
	Orchestrate    string // contents of SKILL.rhai, if present
	Prompt         string // contents of SKILL.md, if present

	// Available is computed by (*Manager).refreshAvailability and
	// cached here; an unavailable skill is still returned by ListAll
	// (for reporting) but never matched by MatchTrigger.
	Available      bool
	UnavailableWhy string
}

// ConfigKey returns the normalized key used to look up per-skill
// overrides (lowercased name).
func (s *Skill) ConfigKey() string {
	return strings.ToLower(strings.TrimSpace(s.Name))
}

// MatchesTrigger reports whether content contains one of the skill's
// trigger phrases, case-insensitively (SPEC_FULL.md §4.1: "case-
// insensitive substring match, first match wins" — the "first match"
// half is the Manager's responsibility across skills, ordered by
// name; this method answers the per-skill substring question).
func (s *Skill) MatchesTrigger(content string) bool {
	lower := strings.ToLower(content)
	for _, trigger := range s.Triggers {
		trigger = strings.ToLower(strings.TrimSpace(trigger))
		if trigger == "" {
			continue
		}
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}
