package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	agentcontext "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/errs"
	"github.com/haasonsaas/nexus/internal/policy"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/skills"
	"github.com/haasonsaas/nexus/internal/tools"
	"github.com/haasonsaas/nexus/pkg/models"
)

// RuntimeConfig configures a Runtime.
type RuntimeConfig struct {
	AgentID        string
	SystemPrompt   string
	Model          string
	CoreTools      []string // tools advertised with full schema every turn
	MaxIterations  int
	SessionIdleTTL time.Duration
	PackOptions    agentcontext.PackOptions
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		MaxIterations:  8,
		SessionIdleTTL: 30 * time.Minute,
		PackOptions:    agentcontext.DefaultPackOptions(),
	}
}

// sessionSlot serializes processing for one session and tracks the last
// time it was used, for idle eviction.
type sessionSlot struct {
	mu       sync.Mutex
	lastUsed time.Time
}

// Runtime is the agent turn loop (C11): ingest an inbound message, pack
// history, call the provider, dispatch any tool calls through the Tool
// Registry's four-step pipeline, and stream the result back as
// ResponseChunks. One Runtime instance serves one configured agent
// (RuntimeConfig.AgentID); cmd/conduit builds one per entry in
// config.AgentsConfig.
type Runtime struct {
	cfg      RuntimeConfig
	provider LLMProvider
	registry *tools.Registry
	packer   *agentcontext.Packer
	sessions sessions.Store
	skills   *skills.Manager
	logger   *slog.Logger
	deps     ToolDeps

	mu          sync.Mutex
	sessionLock map[bus.SessionKey]*sessionSlot
}

// ToolDeps carries the narrow domain handles (SPEC_FULL.md §3) the
// composition root wires up once and every turn's tools.Context is
// stamped with. Permissions is the default permission set granted to
// every tool call; a future per-session/per-skill override would widen
// this to a lookup keyed on session or skill, but the spec's permission
// model is flat (one policy per run) so a single default suffices.
type ToolDeps struct {
	Workspace   string
	Config      *config.Config
	Permissions policy.PermissionSet
	Outbound    tools.OutboundSender
	Tasks       tools.TaskHandle
	Memory      tools.MemoryHandle
	Evolution   tools.EvolutionHandle
	Cron        tools.CronHandle
}

// NewRuntime constructs a Runtime.
func NewRuntime(cfg RuntimeConfig, provider LLMProvider, registry *tools.Registry, sessionStore sessions.Store, skillsManager *skills.Manager, deps ToolDeps, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		cfg:         cfg,
		provider:    provider,
		registry:    registry,
		packer:      agentcontext.NewPacker(cfg.PackOptions),
		sessions:    sessionStore,
		skills:      skillsManager,
		deps:        deps,
		logger:      logger.With("component", "agent_runtime", "agent_id", cfg.AgentID),
		sessionLock: make(map[bus.SessionKey]*sessionSlot),
	}
}

// SetTaskHandle wires the task-spawn handle after construction, since
// the composition root's tasks.AgentExecutor is itself built from a
// Runtime (via a bridge adapter) and so cannot exist before one does.
func (r *Runtime) SetTaskHandle(h tools.TaskHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps.Tasks = h
}

func (r *Runtime) slotFor(key bus.SessionKey) *sessionSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.sessionLock[key]
	if !ok {
		slot = &sessionSlot{}
		r.sessionLock[key] = slot
	}
	slot.lastUsed = time.Now()
	return slot
}

// EvictIdle removes session locks unused for longer than SessionIdleTTL,
// preventing unbounded growth of sessionLock across long-lived runtimes.
func (r *Runtime) EvictIdle() int {
	if r.cfg.SessionIdleTTL <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-r.cfg.SessionIdleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for key, slot := range r.sessionLock {
		slot.mu.Lock()
		idle := slot.lastUsed.Before(cutoff)
		slot.mu.Unlock()
		if idle {
			delete(r.sessionLock, key)
			evicted++
		}
	}
	return evicted
}

// Process runs one turn for an inbound message against the given
// session, serialized per session key, and returns a channel of
// streamed ResponseChunks. Implements the narrow tasks.AgentRuntime
// interface via a composition-root adapter (see cmd/conduit).
func (r *Runtime) Process(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *ResponseChunk, error) {
	key := bus.SessionKey{Channel: msg.Channel, ChatID: msg.ChannelID}
	slot := r.slotFor(key)
	slot.mu.Lock()

	out := make(chan *ResponseChunk, 4)
	go func() {
		defer slot.mu.Unlock()
		defer close(out)
		r.runTurn(ctx, session, msg, out)
	}()
	return out, nil
}

func (r *Runtime) runTurn(ctx context.Context, session *models.Session, msg *models.Message, out chan<- *ResponseChunk) {
	history, err := r.sessions.GetHistory(ctx, session.ID, 0)
	if err != nil {
		out <- &ResponseChunk{Error: fmt.Errorf("load history: %w", err)}
		return
	}

	if err := r.sessions.AppendMessage(ctx, session.ID, msg); err != nil {
		out <- &ResponseChunk{Error: fmt.Errorf("append inbound message: %w", err)}
		return
	}

	packed, err := r.packer.Pack(history, msg, nil)
	if err != nil {
		out <- &ResponseChunk{Error: fmt.Errorf("pack context: %w", err)}
		return
	}

	toolCtx := r.buildToolContext(session, msg)
	systemPrompt := r.systemPromptFor(msg)
	if r.skills != nil {
		if skill, ok := r.skills.MatchTrigger(msg.Content); ok {
			systemPrompt = systemPrompt + "\n\n" + skill.Prompt
		}
	}

	for iter := 0; iter < r.maxIterations(); iter++ {
		req := &CompletionRequest{
			Model:    r.modelFor(msg),
			System:   systemPrompt,
			Messages: toCompletionMessages(packed),
			Tools:    r.toolRoster(),
		}

		chunks, err := r.provider.Complete(ctx, req)
		if err != nil {
			out <- &ResponseChunk{Error: fmt.Errorf("provider completion: %w", err)}
			return
		}

		var assistantText string
		var calls []models.ToolCall
		for chunk := range chunks {
			if chunk.Error != nil {
				out <- &ResponseChunk{Error: chunk.Error}
				return
			}
			if chunk.Text != "" {
				assistantText += chunk.Text
				out <- &ResponseChunk{Text: chunk.Text}
			}
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
		}

		assistantMsg := &models.Message{
			SessionID: session.ID,
			Channel:   msg.Channel,
			ChannelID: msg.ChannelID,
			Direction: models.DirectionOutbound,
			Role:      models.RoleAssistant,
			Content:   assistantText,
			ToolCalls: calls,
			CreatedAt: time.Now(),
		}
		_ = r.sessions.AppendMessage(ctx, session.ID, assistantMsg)
		packed = append(packed, assistantMsg)

		if len(calls) == 0 {
			return
		}

		results := r.executeToolCalls(ctx, toolCtx, calls, out)
		resultMsg := &models.Message{
			SessionID:   session.ID,
			Channel:     msg.Channel,
			ChannelID:   msg.ChannelID,
			Direction:   models.DirectionOutbound,
			Role:        models.RoleTool,
			ToolResults: results,
			CreatedAt:   time.Now(),
		}
		_ = r.sessions.AppendMessage(ctx, session.ID, resultMsg)
		packed = append(packed, resultMsg)
	}

	out <- &ResponseChunk{Error: fmt.Errorf("exceeded max iterations (%d) without a final answer", r.maxIterations())}
}

// executeToolCalls dispatches each call through the registry's pipeline,
// requesting an evolution for any call that names an unknown tool (a
// capability the agent believes should exist but doesn't, spec §4.12).
func (r *Runtime) executeToolCalls(ctx context.Context, toolCtx *tools.Context, calls []models.ToolCall, out chan<- *ResponseChunk) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		out <- &ResponseChunk{ToolEvent: &models.ToolEvent{ToolCallID: call.ID, ToolName: call.Name, Stage: models.ToolEventStarted}}

		result, err := r.registry.Execute(ctx, toolCtx, call.Name, call.Input)
		if err != nil {
			var toolErr *errs.Error
			if errors.As(err, &toolErr) && toolErr.Kind == errs.KindNotFound && toolCtx.Evolution != nil {
				if reqID, reqErr := toolCtx.Evolution.RequestEvolution(ctx, "tool", call.Name, "unknown tool requested by agent"); reqErr == nil {
					r.logger.Info("requested evolution for missing tool", "tool", call.Name, "request_id", reqID)
				}
			}
		}

		tr := models.ToolResult{ToolCallID: call.ID}
		if result != nil {
			tr.Content = result.Content
			tr.IsError = result.IsError
		} else if err != nil {
			tr.Content = err.Error()
			tr.IsError = true
		}
		results = append(results, tr)
		out <- &ResponseChunk{ToolResult: &tr}
	}
	return results
}

func (r *Runtime) buildToolContext(session *models.Session, msg *models.Message) *tools.Context {
	return &tools.Context{
		Workspace:   r.deps.Workspace,
		Session:     bus.SessionKey{Channel: msg.Channel, ChatID: msg.ChannelID},
		Channel:     msg.Channel,
		ChatID:      msg.ChannelID,
		Permissions: r.deps.Permissions,
		Config:      r.deps.Config,
		Outbound:    r.deps.Outbound,
		Tasks:       r.deps.Tasks,
		Memory:      r.deps.Memory,
		Evolution:   r.deps.Evolution,
		Cron:        r.deps.Cron,
	}
}

// systemPromptFor returns the per-request system prompt, preferring a
// scheduled-task override propagated via msg.Metadata over the agent's
// configured default (see internal/tasks/executor.go).
func (r *Runtime) systemPromptFor(msg *models.Message) string {
	if msg.Metadata != nil {
		if override, ok := msg.Metadata["scheduled_task_system_prompt"].(string); ok && override != "" {
			return override
		}
	}
	return r.cfg.SystemPrompt
}

func (r *Runtime) modelFor(msg *models.Message) string {
	if msg.Metadata != nil {
		if override, ok := msg.Metadata["scheduled_task_model"].(string); ok && override != "" {
			return override
		}
	}
	return r.cfg.Model
}

func (r *Runtime) maxIterations() int {
	if r.cfg.MaxIterations <= 0 {
		return 8
	}
	return r.cfg.MaxIterations
}

// toolRoster builds the tiered roster: core tools advertised with full
// schema, everything else as name+description only (spec §4.1). The
// roster is the same on every turn; a matched skill adds only its
// prompt, not tools.
func (r *Runtime) toolRoster() []Tool {
	full := r.registry.FullSchema(r.cfg.CoreTools)
	roster := make([]Tool, 0, len(full))
	for _, info := range full {
		roster = append(roster, &registryTool{info: info})
	}
	lightweight := r.registry.List(nil)
	core := make(map[string]bool, len(r.cfg.CoreTools))
	for _, name := range r.cfg.CoreTools {
		core[name] = true
	}
	for _, info := range lightweight {
		if core[info.Name] {
			continue
		}
		roster = append(roster, &lightweightTool{info: info})
	}
	return roster
}

// registryTool adapts a tools.FullInfo to the agent.Tool interface
// toolconv expects (Name/Description/Schema only; Execute is never
// called on this adapter — actual dispatch goes through
// registry.Execute via executeToolCalls).
type registryTool struct{ info tools.FullInfo }

func (t *registryTool) Name() string         { return t.info.Name }
func (t *registryTool) Description() string  { return t.info.Description }
func (t *registryTool) Schema() json.RawMessage { return t.info.Schema }
func (t *registryTool) Execute(context.Context, json.RawMessage) (*ToolResult, error) {
	return nil, fmt.Errorf("registryTool.Execute should never be called: dispatch goes through the Tool Registry")
}

// lightweightTool advertises a tool by name+description only, with an
// empty-object schema; the provider is expected to request the tool by
// name and the registry validates real parameters on dispatch.
type lightweightTool struct{ info tools.Info }

func (t *lightweightTool) Name() string            { return t.info.Name }
func (t *lightweightTool) Description() string     { return t.info.Description }
func (t *lightweightTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *lightweightTool) Execute(context.Context, json.RawMessage) (*ToolResult, error) {
	return nil, fmt.Errorf("lightweightTool.Execute should never be called: dispatch goes through the Tool Registry")
}

func toCompletionMessages(history []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(history))
	for _, m := range history {
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}
	return out
}
