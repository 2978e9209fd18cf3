package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/policy"
)

// CronCreateTool implements cron_create: schedule a future agent turn or
// skill run as an {at|every|cron} job (C9).
type CronCreateTool struct{}

func (t *CronCreateTool) Name() string { return "cron_create" }
func (t *CronCreateTool) Description() string {
	return "Schedule a recurring or one-shot job that runs an agent turn or a skill."
}
func (t *CronCreateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"schedule": {"type": "string", "description": "One of: at:<RFC3339 time>, every:<duration, e.g. 1h>, cron:<5 or 6 field expr>."},
			"message": {"type": "string", "description": "Agent turn message; mutually exclusive with skill_name."},
			"skill_name": {"type": "string", "description": "Skill to run instead of an agent turn."},
			"deliver": {"type": "boolean"},
			"deliver_to": {"type": "string"}
		},
		"required": ["name", "schedule"]
	}`)
}

func (t *CronCreateTool) Validate(params json.RawMessage) error {
	var input struct {
		Name      string `json:"name"`
		Schedule  string `json:"schedule"`
		Message   string `json:"message"`
		SkillName string `json:"skill_name"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.Schedule) == "" {
		return fmt.Errorf("name and schedule are required")
	}
	if input.Message == "" && input.SkillName == "" {
		return fmt.Errorf("one of message or skill_name is required")
	}
	if input.Message != "" && input.SkillName != "" {
		return fmt.Errorf("message and skill_name are mutually exclusive")
	}
	return nil
}

func (t *CronCreateTool) RequiredPermissions(params json.RawMessage) policy.PermissionSet {
	return policy.NewPermissionSet("cron:write")
}

func (t *CronCreateTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*Result, error) {
	if tc == nil || tc.Cron == nil {
		return &Result{Content: "cron scheduler unavailable", IsError: true}, nil
	}
	var input struct {
		Name      string `json:"name"`
		Schedule  string `json:"schedule"`
		Message   string `json:"message"`
		SkillName string `json:"skill_name"`
		Deliver   bool   `json:"deliver"`
		DeliverTo string `json:"deliver_to"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	id, err := tc.Cron.CreateJob(ctx, CronJobSpec{
		Name:      input.Name,
		Schedule:  input.Schedule,
		AgentTurn: input.Message,
		SkillName: input.SkillName,
		Deliver:   input.Deliver,
		DeliverTo: input.DeliverTo,
	})
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	payload, _ := json.MarshalIndent(map[string]any{"id": id}, "", "  ")
	return &Result{Content: string(payload)}, nil
}

// CronListTool implements cron_list.
type CronListTool struct{}

func (t *CronListTool) Name() string                { return "cron_list" }
func (t *CronListTool) Description() string         { return "List scheduled jobs." }
func (t *CronListTool) Schema() json.RawMessage      { return json.RawMessage(`{"type":"object","properties":{}}`) }
func (t *CronListTool) Validate(json.RawMessage) error { return nil }
func (t *CronListTool) RequiredPermissions(json.RawMessage) policy.PermissionSet {
	return policy.NewPermissionSet("cron:read")
}

func (t *CronListTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*Result, error) {
	if tc == nil || tc.Cron == nil {
		return &Result{Content: "cron scheduler unavailable", IsError: true}, nil
	}
	jobs, err := tc.Cron.ListJobs(ctx)
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	payload, _ := json.MarshalIndent(map[string]any{"jobs": jobs}, "", "  ")
	return &Result{Content: string(payload)}, nil
}

// CronCancelTool implements cron_cancel.
type CronCancelTool struct{}

func (t *CronCancelTool) Name() string        { return "cron_cancel" }
func (t *CronCancelTool) Description() string { return "Cancel a scheduled job by id." }
func (t *CronCancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`)
}

func (t *CronCancelTool) Validate(params json.RawMessage) error {
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

func (t *CronCancelTool) RequiredPermissions(json.RawMessage) policy.PermissionSet {
	return policy.NewPermissionSet("cron:write")
}

func (t *CronCancelTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*Result, error) {
	if tc == nil || tc.Cron == nil {
		return &Result{Content: "cron scheduler unavailable", IsError: true}, nil
	}
	var input struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	if err := tc.Cron.CancelJob(ctx, input.ID); err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	return &Result{Content: `{"status":"cancelled"}`}, nil
}
