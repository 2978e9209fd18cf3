package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Toggles is the on-disk disablement map persisted at toggles.json:
// absence of a key means enabled; an explicit false disables. Matches
// §6's `{skills: {}, tools: {name: false}}` schema exactly.
type Toggles struct {
	Skills map[string]bool `json:"skills"`
	Tools  map[string]bool `json:"tools"`
}

func newToggles() Toggles {
	return Toggles{Skills: map[string]bool{}, Tools: map[string]bool{}}
}

// ToggleStore loads, persists, and queries the toggles.json disablement
// map. Persistence idiom (read-or-create, corrupt-file backup, indented
// JSON write) is grounded on internal/marketplace/store.go's
// loadIndex/saveIndex pair.
type ToggleStore struct {
	mu      sync.RWMutex
	path    string
	toggles Toggles
	logger  *slog.Logger
}

// ToggleStoreOption configures a ToggleStore.
type ToggleStoreOption func(*ToggleStore)

// WithToggleStoreLogger sets the logger used for load/save diagnostics.
func WithToggleStoreLogger(logger *slog.Logger) ToggleStoreOption {
	return func(s *ToggleStore) { s.logger = logger }
}

// NewToggleStore loads (or initializes) the toggle store at path.
func NewToggleStore(path string, opts ...ToggleStoreOption) (*ToggleStore, error) {
	s := &ToggleStore{path: path, toggles: newToggles(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ToggleStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Debug("no toggles.json found, starting with all enabled", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read toggles: %w", err)
	}

	var loaded Toggles
	if err := json.Unmarshal(data, &loaded); err != nil {
		corruptPath := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().Format("20060102-150405"))
		if renameErr := os.Rename(s.path, corruptPath); renameErr != nil {
			s.logger.Warn("failed to back up corrupted toggles file", "error", renameErr)
		} else {
			s.logger.Warn("backed up corrupted toggles file", "path", corruptPath)
		}
		s.toggles = newToggles()
		return nil
	}

	if loaded.Skills == nil {
		loaded.Skills = map[string]bool{}
	}
	if loaded.Tools == nil {
		loaded.Tools = map[string]bool{}
	}
	s.toggles = loaded
	return nil
}

func (s *ToggleStore) save() error {
	data, err := json.MarshalIndent(s.toggles, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal toggles: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create toggles dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write toggles: %w", err)
	}
	return nil
}

// IsToolEnabled reports whether the named tool is enabled. Absence of
// an entry means enabled.
func (s *ToggleStore) IsToolEnabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, ok := s.toggles.Tools[name]
	return !ok || enabled
}

// IsSkillEnabled reports whether the named skill is enabled. Absence of
// an entry means enabled.
func (s *ToggleStore) IsSkillEnabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, ok := s.toggles.Skills[name]
	return !ok || enabled
}

// SetToolEnabled sets (and persists) a tool's enablement flag. Setting
// it to true clears the override, matching "absence = enabled".
func (s *ToggleStore) SetToolEnabled(name string, enabled bool) error {
	s.mu.Lock()
	if enabled {
		delete(s.toggles.Tools, name)
	} else {
		s.toggles.Tools[name] = false
	}
	err := s.save()
	s.mu.Unlock()
	return err
}

// SetSkillEnabled sets (and persists) a skill's enablement flag.
func (s *ToggleStore) SetSkillEnabled(name string, enabled bool) error {
	s.mu.Lock()
	if enabled {
		delete(s.toggles.Skills, name)
	} else {
		s.toggles.Skills[name] = false
	}
	err := s.save()
	s.mu.Unlock()
	return err
}

// Snapshot returns a copy of the current toggle state.
func (s *ToggleStore) Snapshot() Toggles {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := newToggles()
	for k, v := range s.toggles.Tools {
		snap.Tools[k] = v
	}
	for k, v := range s.toggles.Skills {
		snap.Skills[k] = v
	}
	return snap
}
