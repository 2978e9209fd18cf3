package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/nexus/internal/errs"
	"github.com/haasonsaas/nexus/internal/policy"
)

// MaxToolNameLength and MaxToolParamsSize bound resource exhaustion
// from a misbehaving provider, grounded on the same limits the teacher
// enforces in internal/agent/tool_registry.go.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20 // 10MB
)

// Info is the lightweight advertisement (name + one-line description)
// used for every tool outside the core-tools tier (spec §4.1's tiered
// schema policy).
type Info struct {
	Name        string
	Description string
}

// FullInfo additionally carries the tool's JSON Schema, used for core
// tools and for the transparent schema-injection retry when the LLM
// names a lightweight tool.
type FullInfo struct {
	Info
	Schema json.RawMessage
}

// Registry is the process-global tool table (C4).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	resolver *policy.Resolver
	toggles  *policy.ToggleStore
}

// New creates an empty registry. toggles may be nil (every tool
// enabled); resolver may be nil (NewResolver() is used).
func New(resolver *policy.Resolver, toggles *policy.ToggleStore) *Registry {
	if resolver == nil {
		resolver = policy.NewResolver()
	}
	return &Registry{
		tools:    make(map[string]Tool),
		resolver: resolver,
		toggles:  toggles,
	}
}

// Register adds (or replaces) a tool under its own Name().
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by its canonical name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name = r.resolver.CanonicalName(name)
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the tiered (name + description only) advertisement for
// every registered tool that is both toggle-enabled and, when policy is
// non-nil, allowed by it.
func (r *Registry) List(toolPolicy *policy.Policy) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.tools))
	for name, tool := range r.tools {
		if !r.enabledLocked(name) {
			continue
		}
		if toolPolicy != nil && !r.resolver.IsAllowed(toolPolicy, name) {
			continue
		}
		out = append(out, Info{Name: tool.Name(), Description: tool.Description()})
	}
	return out
}

// FullSchema returns the full JSON Schema advertisement for a set of
// tool names, used for the configured core-tools tier and for
// transparent schema-injection retries (spec §4.1).
func (r *Registry) FullSchema(names []string) []FullInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FullInfo, 0, len(names))
	for _, name := range names {
		canonical := r.resolver.CanonicalName(name)
		tool, ok := r.tools[canonical]
		if !ok {
			continue
		}
		out = append(out, FullInfo{
			Info:   Info{Name: tool.Name(), Description: tool.Description()},
			Schema: tool.Schema(),
		})
	}
	return out
}

func (r *Registry) enabledLocked(name string) bool {
	if r.toggles == nil {
		return true
	}
	return r.toggles.IsToolEnabled(name)
}

// IsEnabled reports whether a tool is both registered and toggle-enabled.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name = r.resolver.CanonicalName(name)
	if _, ok := r.tools[name]; !ok {
		return false
	}
	return r.enabledLocked(name)
}

// Execute runs the full dispatch pipeline from spec §4.3:
//  1. lookup by name,
//  2. validate params,
//  3. check required permissions ⊆ tc.Permissions and the toggle store,
//  4. invoke execute.
//
// Validation and permission failures return a *Result with IsError set
// (so the LLM sees a tool result and may recover) alongside the
// underlying *errs.Error; callers that need the error class for
// evolution-request or retry decisions should inspect it with
// errs.KindOf.
func (r *Registry) Execute(ctx context.Context, tc *Context, name string, params json.RawMessage) (*Result, error) {
	if len(name) > MaxToolNameLength {
		err := errs.Validation("tool name exceeds maximum length of %d characters", MaxToolNameLength)
		return &Result{Content: err.Error(), IsError: true}, err
	}
	if len(params) > MaxToolParamsSize {
		err := errs.Validation("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)
		return &Result{Content: err.Error(), IsError: true}, err
	}

	r.mu.RLock()
	canonical := r.resolver.CanonicalName(name)
	tool, ok := r.tools[canonical]
	r.mu.RUnlock()
	if !ok {
		err := errs.NotFound("unknown tool: %s", name)
		return &Result{Content: err.Error(), IsError: true}, err
	}

	if !r.IsEnabled(canonical) {
		err := errs.Permission("tool %q is disabled", canonical)
		return &Result{Content: err.Error(), IsError: true}, err
	}

	if err := tool.Validate(params); err != nil {
		return &Result{Content: err.Error(), IsError: true}, err
	}

	required := tool.RequiredPermissions(params)
	granted := policy.PermissionSet(nil)
	if tc != nil {
		granted = tc.Permissions
	}
	if err := policy.CheckPermissions(canonical, required, granted); err != nil {
		return &Result{Content: err.Error(), IsError: true}, err
	}

	result, err := tool.Execute(ctx, tc, params)
	if err != nil {
		return &Result{Content: fmt.Sprintf("tool %q failed: %v", canonical, err), IsError: true}, err
	}
	return result, nil
}

// Resolver exposes the registry's policy resolver for callers (e.g. the
// agent runtime) that need to pre-filter a tool roster.
func (r *Registry) Resolver() *policy.Resolver { return r.resolver }

// Toggles exposes the registry's toggle store, if any.
func (r *Registry) Toggles() *policy.ToggleStore { return r.toggles }
