package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/policy"
)

// ghostAllowedTypes restricts memory_upsert on the ghost channel to
// durable, user-facing knowledge: facts, preferences, projects, tasks.
// Ported in semantics from original_source/crates/tools/src/memory.rs's
// ghost guardrail — the Ghost Service must not use memory as its own
// scratch/maintenance log.
var ghostAllowedTypes = map[string]bool{
	"fact":       true,
	"preference": true,
	"project":    true,
	"task":       true,
}

// ghostLogPhrases reject content that reads like a maintenance log entry
// rather than a durable fact, catching the Ghost Service writing its own
// routine-run narration into memory.
var ghostLogPhrases = []string{
	"ran the routine",
	"heartbeat fired",
	"nothing to do this cycle",
	"completed maintenance",
	"no action needed",
	"checked in",
}

func violatesGhostGuardrail(channel string, scope, itemType, content string) error {
	if channel != "ghost" {
		return nil
	}
	if scope != "long_term" {
		return fmt.Errorf("ghost channel may only write long_term memory")
	}
	if !ghostAllowedTypes[itemType] {
		return fmt.Errorf("ghost channel may only write fact/preference/project/task items, got %q", itemType)
	}
	lower := strings.ToLower(content)
	for _, phrase := range ghostLogPhrases {
		if strings.Contains(lower, phrase) {
			return fmt.Errorf("content reads as a maintenance-log entry, not a durable memory: contains %q", phrase)
		}
	}
	return nil
}

// MemoryQueryTool implements memory_query.
type MemoryQueryTool struct{}

func (t *MemoryQueryTool) Name() string        { return "memory_query" }
func (t *MemoryQueryTool) Description() string { return "Search long-term and short-term memory by text." }
func (t *MemoryQueryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search text."},
			"top_k": {"type": "integer", "minimum": 1, "description": "Max results (default 5)."}
		},
		"required": ["query"]
	}`)
}

func (t *MemoryQueryTool) Validate(params json.RawMessage) error {
	var input struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Query) == "" {
		return fmt.Errorf("query is required")
	}
	return nil
}

func (t *MemoryQueryTool) RequiredPermissions(params json.RawMessage) policy.PermissionSet {
	return policy.NewPermissionSet("memory:read")
}

func (t *MemoryQueryTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*Result, error) {
	if tc == nil || tc.Memory == nil {
		return &Result{Content: "memory store unavailable", IsError: true}, nil
	}
	var input struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	topK := input.TopK
	if topK <= 0 {
		topK = 5
	}
	items, err := tc.Memory.Query(ctx, input.Query, topK)
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	payload, _ := json.MarshalIndent(map[string]any{"results": items}, "", "  ")
	return &Result{Content: string(payload)}, nil
}

// MemoryUpsertTool implements memory_upsert, enforcing the ghost-channel
// guardrail when tc.Channel == "ghost".
type MemoryUpsertTool struct{}

func (t *MemoryUpsertTool) Name() string { return "memory_upsert" }
func (t *MemoryUpsertTool) Description() string {
	return "Store or update a memory item (fact, preference, project, task, ...)."
}
func (t *MemoryUpsertTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"scope": {"type": "string", "enum": ["long_term", "short_term"]},
			"type": {"type": "string", "enum": ["fact","preference","project","task","glossary","contact","snippet","policy","summary","note"]},
			"title": {"type": "string"},
			"content": {"type": "string"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"importance": {"type": "number", "minimum": 0, "maximum": 1},
			"dedup_key": {"type": "string"}
		},
		"required": ["scope", "type", "content"]
	}`)
}

func (t *MemoryUpsertTool) Validate(params json.RawMessage) error {
	var input struct {
		Scope   string `json:"scope"`
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if input.Scope == "" || input.Type == "" || strings.TrimSpace(input.Content) == "" {
		return fmt.Errorf("scope, type, and content are required")
	}
	return nil
}

func (t *MemoryUpsertTool) RequiredPermissions(params json.RawMessage) policy.PermissionSet {
	return policy.NewPermissionSet("memory:write")
}

func (t *MemoryUpsertTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*Result, error) {
	if tc == nil || tc.Memory == nil {
		return &Result{Content: "memory store unavailable", IsError: true}, nil
	}
	var input struct {
		Scope      string   `json:"scope"`
		Type       string   `json:"type"`
		Title      string   `json:"title"`
		Content    string   `json:"content"`
		Summary    string   `json:"summary"`
		Tags       []string `json:"tags"`
		Importance float64  `json:"importance"`
		DedupKey   string   `json:"dedup_key"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	if err := violatesGhostGuardrail(string(tc.Channel), input.Scope, input.Type, input.Content); err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	id, err := tc.Memory.Upsert(ctx, MemoryUpsertParams{
		Scope:      input.Scope,
		Type:       input.Type,
		Title:      input.Title,
		Content:    input.Content,
		Summary:    input.Summary,
		Tags:       input.Tags,
		Channel:    string(tc.Channel),
		Importance: input.Importance,
		DedupKey:   input.DedupKey,
	})
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	payload, _ := json.MarshalIndent(map[string]any{"id": id}, "", "  ")
	return &Result{Content: string(payload)}, nil
}

// MemoryForgetTool implements memory_forget (soft-delete by id).
type MemoryForgetTool struct{}

func (t *MemoryForgetTool) Name() string        { return "memory_forget" }
func (t *MemoryForgetTool) Description() string { return "Soft-delete a memory item by id." }
func (t *MemoryForgetTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`)
}

func (t *MemoryForgetTool) Validate(params json.RawMessage) error {
	var input struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.ID) == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

func (t *MemoryForgetTool) RequiredPermissions(params json.RawMessage) policy.PermissionSet {
	return policy.NewPermissionSet("memory:write")
}

func (t *MemoryForgetTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*Result, error) {
	if tc == nil || tc.Memory == nil {
		return &Result{Content: "memory store unavailable", IsError: true}, nil
	}
	var input struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	if err := tc.Memory.Forget(ctx, input.ID); err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	return &Result{Content: `{"status":"forgotten"}`}, nil
}
