package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadSkillDir reads a skill directory: meta.{yaml,json} (required),
// SKILL.md (optional prompt body), and SKILL.rhai (optional
// orchestration script). Grounded on the teacher's ParseSkillFile,
// generalized from a single SKILL.md-with-frontmatter file to the
// spec's three-file directory layout (SPEC_FULL.md §3).
func LoadSkillDir(dir string, source SourceType) (*Skill, error) {
	meta, err := loadMeta(dir)
	if err != nil {
		return nil, fmt.Errorf("load meta for %s: %w", dir, err)
	}
	if err := ValidateMeta(meta); err != nil {
		return nil, fmt.Errorf("validate meta for %s: %w", dir, err)
	}

	skill := &Skill{
		Meta:   *meta,
		Path:   dir,
		Source: source,
	}

	promptPath := filepath.Join(dir, SkillPromptFilename)
	if data, err := os.ReadFile(promptPath); err == nil {
		skill.Prompt = string(data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", SkillPromptFilename, err)
	}

	scriptPath := filepath.Join(dir, SkillScriptFilename)
	if data, err := os.ReadFile(scriptPath); err == nil {
		skill.HasOrchestrate = true
		skill.Orchestrate = string(data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", SkillScriptFilename, err)
	}

	return skill, nil
}

// loadMeta tries meta.yaml then meta.json, in that order.
func loadMeta(dir string) (*Meta, error) {
	yamlPath := filepath.Join(dir, MetaFilenameYAML)
	if data, err := os.ReadFile(yamlPath); err == nil {
		var meta Meta
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("parse %s: %w", MetaFilenameYAML, err)
		}
		return &meta, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	jsonPath := filepath.Join(dir, MetaFilenameJSON)
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("no %s or %s found: %w", MetaFilenameYAML, MetaFilenameJSON, err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetaFilenameJSON, err)
	}
	return &meta, nil
}

// ValidateMeta checks the fields a loaded skill must carry.
func ValidateMeta(meta *Meta) error {
	if meta.Name == "" {
		return fmt.Errorf("name is required")
	}
	if meta.Description == "" {
		return fmt.Errorf("description is required")
	}
	return nil
}
