package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Discover scans the workspace and built-in roots and returns every
// skill directory found, with workspace entries overriding built-in
// entries of the same name (SPEC_FULL.md §4.4: "Loads skills from two
// roots in priority order (workspace overrides built-in)"). Grounded
// on the teacher's LocalSource.Discover + DiscoverAll priority
// resolution, trimmed of the git/registry remote sources: the spec's
// model names only two local roots, so GitSource/RegistrySource
// (network fetch, checksum-gated download, refresh intervals) have no
// SPEC_FULL.md component to serve and are dropped (documented in
// DESIGN.md).
func Discover(workspaceRoot, builtinRoot string) ([]*Skill, []error, error) {
	byName := make(map[string]*Skill)
	var loadErrs []error

	// Built-in first so a later workspace entry of the same name wins.
	if err := scanRoot(builtinRoot, SourceBuiltin, byName, &loadErrs); err != nil {
		return nil, loadErrs, err
	}
	if err := scanRoot(workspaceRoot, SourceWorkspace, byName, &loadErrs); err != nil {
		return nil, loadErrs, err
	}

	out := make([]*Skill, 0, len(byName))
	for _, skill := range byName {
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, loadErrs, nil
}

func scanRoot(root string, source SourceType, byName map[string]*Skill, loadErrs *[]error) error {
	if root == "" {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read skill root %s: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if !hasMeta(dir) {
			continue
		}
		skill, err := LoadSkillDir(dir, source)
		if err != nil {
			// A malformed skill directory is reported, not fatal to
			// the rest of the scan.
			*loadErrs = append(*loadErrs, err)
			continue
		}
		byName[skill.Name] = skill
	}
	return nil
}

func hasMeta(dir string) bool {
	for _, name := range []string{MetaFilenameYAML, MetaFilenameJSON} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
