// Package tools implements the Tool Registry (C4): a process-global
// mapping from tool name to executor + schema, dispatched through the
// four-step pipeline in SPEC_FULL.md §4.3 (lookup, validate, permission
// check, execute). Adapted from the teacher's internal/agent tool
// interface (internal/agent/provider_types.go's Tool, internal/agent/
// runtime.go's ToolResult/Artifact), generalized with the Validate and
// RequiredPermissions steps the spec's pipeline requires and an
// explicit ToolContext value (rather than context.Value bag) carrying
// the handles §3 names.
package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/policy"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Tool is a single dispatchable capability exposed to the LLM loop.
type Tool interface {
	// Name returns the canonical tool name used for lookup and LLM
	// function calling (alphanumeric + underscores).
	Name() string

	// Description is a one-line summary shown to the LLM when the tool
	// is advertised by name only (tiered schema, spec §4.1).
	Description() string

	// Schema returns the tool's JSON Schema parameter definition.
	Schema() json.RawMessage

	// Validate checks params against the tool's own invariants beyond
	// what JSON Schema structural validation covers (e.g. a path must
	// stay within the workspace). Returns an *errs.Error of kind
	// Validation on failure.
	Validate(params json.RawMessage) error

	// RequiredPermissions returns the permission set params needs;
	// params-dependent because e.g. a write tool may require different
	// permissions for different target paths.
	RequiredPermissions(params json.RawMessage) policy.PermissionSet

	// Execute runs the tool. ctx carries cancellation/timeout; tc
	// carries the domain handles listed in SPEC_FULL.md §3.
	Execute(ctx context.Context, tc *Context, params json.RawMessage) (*Result, error)
}

// Result is a tool's output.
type Result struct {
	Content   string     `json:"content"`
	IsError   bool       `json:"is_error,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Artifact is a file or media artifact produced by a tool execution,
// later surfaced as a message attachment.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type,omitempty"`
	Path     string `json:"path,omitempty"`
}

// Context is the ToolContext passed to every Execute call: the cheap
// shared-reference handles a tool may need, scoped to one invocation.
// Memory store, task manager, and capability/evolution handles are
// declared as narrow interfaces here so this package does not import
// internal/memory, internal/tasks, internal/capabilities, or
// internal/evolution directly — those packages depend on internal/tools
// (to register their own tools), not the reverse.
type Context struct {
	Workspace   string
	Session     bus.SessionKey
	Channel     models.ChannelType
	ChatID      string
	Permissions policy.PermissionSet
	Config      *config.Config

	Outbound  OutboundSender
	Tasks     TaskHandle
	Memory    MemoryHandle
	Evolution EvolutionHandle
	Cron      CronHandle
}

// OutboundSender delivers a message back to the session's channel.
type OutboundSender interface {
	Deliver(ctx context.Context, msg bus.OutboundMessage) error
}

// TaskHandle is the narrow task-manager surface a tool needs to spawn
// or query background work (C8).
type TaskHandle interface {
	Spawn(ctx context.Context, label, description string) (string, error)
	Status(ctx context.Context, id string) (string, error)
}

// MemoryUpsertParams is the narrow, import-cycle-free mirror of
// memory.UpsertParams that a tool call can construct without importing
// internal/memory.
type MemoryUpsertParams struct {
	Scope      string
	Type       string
	Title      string
	Content    string
	Summary    string
	Tags       []string
	Channel    string
	Importance float64
	DedupKey   string
}

// MemoryHandle is the narrow memory-store surface a tool needs (C3).
type MemoryHandle interface {
	Query(ctx context.Context, query string, topK int) ([]string, error)
	Upsert(ctx context.Context, params MemoryUpsertParams) (string, error)
	Forget(ctx context.Context, id string) error
}

// EvolutionHandle is the narrow evolution-engine surface a tool needs
// to request a new capability when it hits a missing one (C12).
type EvolutionHandle interface {
	RequestEvolution(ctx context.Context, kind, targetID, trigger string) (string, error)
}

// CronJobSpec is the narrow, import-cycle-free mirror of a cron.Job
// creation payload a tool call can construct without importing
// internal/cron directly.
type CronJobSpec struct {
	Name       string
	Schedule   string // "at:<RFC3339>" | "every:<go duration>" | "cron:<expr>"
	AgentTurn  string // message for payload kind agent_turn
	SkillName  string // skill name for payload kind skill_rhai
	Deliver    bool
	DeliverTo  string
}

// CronJobSummary is the narrow view of a registered cron job returned to
// a tool call.
type CronJobSummary struct {
	ID         string
	Name       string
	Enabled    bool
	NextRunAt  string
	LastRunAt  string
}

// CronHandle is the narrow cron-scheduler surface a tool needs to
// create, list, and cancel jobs (C9).
type CronHandle interface {
	CreateJob(ctx context.Context, spec CronJobSpec) (string, error)
	ListJobs(ctx context.Context) ([]CronJobSummary, error)
	CancelJob(ctx context.Context, id string) error
}
