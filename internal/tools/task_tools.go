package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/policy"
)

// TaskSpawnTool implements task_spawn: hand off a longer-running piece of
// work to a background task execution (C8) instead of blocking the
// current turn.
type TaskSpawnTool struct{}

func (t *TaskSpawnTool) Name() string        { return "task_spawn" }
func (t *TaskSpawnTool) Description() string { return "Spawn a background task and return its id." }
func (t *TaskSpawnTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"label": {"type": "string"},
			"description": {"type": "string"}
		},
		"required": ["label", "description"]
	}`)
}

func (t *TaskSpawnTool) Validate(params json.RawMessage) error {
	var input struct {
		Label       string `json:"label"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Label) == "" || strings.TrimSpace(input.Description) == "" {
		return fmt.Errorf("label and description are required")
	}
	return nil
}

func (t *TaskSpawnTool) RequiredPermissions(json.RawMessage) policy.PermissionSet {
	return policy.NewPermissionSet("task:write")
}

func (t *TaskSpawnTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*Result, error) {
	if tc == nil || tc.Tasks == nil {
		return &Result{Content: "task manager unavailable", IsError: true}, nil
	}
	var input struct {
		Label       string `json:"label"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	id, err := tc.Tasks.Spawn(ctx, input.Label, input.Description)
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	payload, _ := json.MarshalIndent(map[string]any{"id": id}, "", "  ")
	return &Result{Content: string(payload)}, nil
}

// TaskStatusTool implements task_status: poll a background task's progress.
type TaskStatusTool struct{}

func (t *TaskStatusTool) Name() string        { return "task_status" }
func (t *TaskStatusTool) Description() string { return "Check the status of a background task by id." }
func (t *TaskStatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`)
}

func (t *TaskStatusTool) Validate(params json.RawMessage) error {
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

func (t *TaskStatusTool) RequiredPermissions(json.RawMessage) policy.PermissionSet {
	return policy.NewPermissionSet("task:read")
}

func (t *TaskStatusTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*Result, error) {
	if tc == nil || tc.Tasks == nil {
		return &Result{Content: "task manager unavailable", IsError: true}, nil
	}
	var input struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	status, err := tc.Tasks.Status(ctx, input.ID)
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	payload, _ := json.MarshalIndent(map[string]any{"status": status}, "", "  ")
	return &Result{Content: string(payload)}, nil
}
