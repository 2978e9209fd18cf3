// Package capabilities implements the Capability Registry (C6):
// runtime-loadable tool artifacts identified as "category.name",
// separable from statically-registered built-in tools, each with a
// JSON input schema, a provider kind, a current version pointer, and
// a version history (SPEC_FULL.md §3, §4.5).
//
// Grounded on internal/tools/exec.Manager's exec.CommandContext-based
// synchronous command runner for the script/python provider kinds, and
// on internal/versioning.Store for the version history and rollback
// semantics (SPEC_FULL.md §4.12's invariant: "a capability is either
// absent or has exactly one active artifact version, and that
// version's content hash matches the snapshot stored under its
// version tag"). The teacher's internal/plugins/internal/marketplace
// packages model a different concept (whole process/channel/tool
// plugin bundles distributed from a remote marketplace) and are not
// grounding sources here — see DESIGN.md.
package capabilities

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/versioning"
)

// ProviderKind selects how a capability's artifact is invoked.
type ProviderKind string

const (
	ProviderScript  ProviderKind = "script"
	ProviderPython  ProviderKind = "python"
	ProviderProcess ProviderKind = "process"
)

// Descriptor is a capability's registry entry.
type Descriptor struct {
	ID             string          `json:"id"`
	ProviderKind   ProviderKind    `json:"provider_kind"`
	Schema         json.RawMessage `json:"schema,omitempty"`
	ArtifactName   string          `json:"artifact_name"`
	CurrentVersion int             `json:"current_version"`
}

// Registry maps capability id to its descriptor. Process-wide,
// accessed through narrow locks (SPEC_FULL.md §5: "Tool registry,
// skill manager, capability registry: shared behind fine-grained
// locks; reads are the common case.").
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*Descriptor
	versions    *versioning.Store
	artifactDir string
	exec        *execRunner
}

// New creates a Registry rooted at artifactDir (active artifacts) and
// versionDir (version history/snapshots), per spec §6's
// `tool_artifacts/<cap_id>.{sh|py|…}` and
// `tool_versions/<cap_id>/...` layout.
func New(artifactDir, versionDir string) (*Registry, error) {
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	store, err := versioning.NewStore(versionDir)
	if err != nil {
		return nil, err
	}
	return &Registry{
		entries:     make(map[string]*Descriptor),
		versions:    store,
		artifactDir: artifactDir,
		exec:        newExecRunner(),
	}, nil
}

// IsAvailable implements skills.CapabilityChecker — whether id is a
// registered, versioned capability.
func (r *Registry) IsAvailable(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Get returns a capability's descriptor.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[id]
	return d, ok
}

// IDs returns every registered capability id. A capability whose last
// version was rolled back is removed from the registry, so every id
// returned has an active version.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}

func (r *Registry) artifactPath(id string, descriptor *Descriptor) string {
	return filepath.Join(r.artifactDir, descriptor.ArtifactName)
}

// Publish activates a new version of a capability: it snapshots the
// artifact content into the version history, writes it to the active
// artifact path, and registers/updates the descriptor. This is the
// step the Evolution Engine's Completed stage performs (SPEC_FULL.md
// §4.12 stage 8: "the registry publishes the new capability").
func (r *Registry) Publish(id string, kind ProviderKind, artifactName string, content []byte, schema json.RawMessage, createdBy versioning.CreatedBy, changelog string, now time.Time) (*Descriptor, error) {
	snap, err := r.versions.Snapshot(id, map[string][]byte{artifactName: content}, createdBy, changelog, now)
	if err != nil {
		return nil, fmt.Errorf("snapshot capability %s: %w", id, err)
	}

	descriptor := &Descriptor{
		ID:             id,
		ProviderKind:   kind,
		Schema:         schema,
		ArtifactName:   artifactName,
		CurrentVersion: snap.Version,
	}

	path := r.artifactPath(id, descriptor)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	mode := os.FileMode(0o644)
	if kind == ProviderScript || kind == ProviderPython || kind == ProviderProcess {
		mode = 0o755
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return nil, fmt.Errorf("write active artifact: %w", err)
	}

	r.mu.Lock()
	r.entries[id] = descriptor
	r.mu.Unlock()
	return descriptor, nil
}

// Rollback pops the latest version via the versioning store, restores
// the previous version's content to the active artifact path, and
// updates the descriptor pointer. If no previous version exists, the
// capability is removed from the registry entirely (SPEC_FULL.md
// §4.12).
func (r *Registry) Rollback(id string) error {
	r.mu.RLock()
	descriptor, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("capability %s not registered", id)
	}

	active, err := r.versions.Rollback(id)
	if err != nil {
		return err
	}

	if active == 0 {
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
		return os.Remove(r.artifactPath(id, descriptor))
	}

	content, err := r.versions.ReadFile(id, active, descriptor.ArtifactName)
	if err != nil {
		return fmt.Errorf("read rolled-back artifact: %w", err)
	}
	if err := os.WriteFile(r.artifactPath(id, descriptor), content, 0o755); err != nil {
		return fmt.Errorf("restore rolled-back artifact: %w", err)
	}

	r.mu.Lock()
	descriptor.CurrentVersion = active
	r.mu.Unlock()
	return nil
}

// Execute delegates to the provider kind: script runs a shell
// artifact, python invokes a python interpreter, process spawns a
// long-lived child addressed by stdin/stdout (SPEC_FULL.md §4.5).
func (r *Registry) Execute(ctx context.Context, id string, input string, timeout time.Duration) (string, error) {
	r.mu.RLock()
	descriptor, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("capability %s not registered", id)
	}
	path := r.artifactPath(id, descriptor)

	switch descriptor.ProviderKind {
	case ProviderScript:
		return r.exec.runOnce(ctx, path, nil, input, timeout)
	case ProviderPython:
		return r.exec.runOnce(ctx, "python3", []string{path}, input, timeout)
	case ProviderProcess:
		return r.exec.runPersistent(id, path, input)
	default:
		return "", fmt.Errorf("unknown provider kind %q for capability %s", descriptor.ProviderKind, id)
	}
}

// execRunner groups the script/python/process invocation strategies,
// reusing exec.CommandContext the way internal/tools/exec.Manager
// does for the synchronous cases and keeping one long-lived child per
// process-kind capability, addressed by a newline-framed stdin/stdout
// protocol.
type execRunner struct {
	mu        sync.Mutex
	processes map[string]*persistentProc
}

type persistentProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func newExecRunner() *execRunner {
	return &execRunner{processes: make(map[string]*persistentProc)}
}

func (r *execRunner) runOnce(ctx context.Context, name string, extraArgs []string, input string, timeout time.Duration) (string, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, name, extraArgs...)
	cmd.Stdin = strings.NewReader(input)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("run capability artifact: %w", err)
	}
	return string(out), nil
}

// runPersistent writes one newline-terminated request to the
// long-lived child's stdin and reads one newline-terminated response
// from its stdout, starting the child on first use and reusing it for
// subsequent calls (SPEC_FULL.md §4.5: "process spawns a long-lived
// child addressed by stdin/stdout").
func (r *execRunner) runPersistent(id, path, input string) (string, error) {
	r.mu.Lock()
	proc, ok := r.processes[id]
	if !ok || (proc.cmd.ProcessState != nil && proc.cmd.ProcessState.Exited()) {
		started, err := r.startPersistent(path)
		if err != nil {
			r.mu.Unlock()
			return "", err
		}
		proc = started
		r.processes[id] = proc
	}
	r.mu.Unlock()

	if _, err := fmt.Fprintln(proc.stdin, strings.ReplaceAll(input, "\n", " ")); err != nil {
		return "", fmt.Errorf("write to persistent capability process: %w", err)
	}
	line, err := proc.stdout.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read from persistent capability process: %w", err)
	}
	return strings.TrimRight(line, "\n"), nil
}

func (r *execRunner) startPersistent(path string) (*persistentProc, error) {
	cmd := exec.Command(path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start persistent capability process: %w", err)
	}
	return &persistentProc{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}, nil
}
