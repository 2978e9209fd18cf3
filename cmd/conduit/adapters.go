package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/cron"
	"github.com/haasonsaas/nexus/internal/memory"
	"github.com/haasonsaas/nexus/internal/tasks"
	"github.com/haasonsaas/nexus/internal/tools"
	"github.com/haasonsaas/nexus/pkg/models"
)

// memoryAdapter bridges internal/memory.Store to the narrow
// tools.MemoryHandle surface a tool call sees, translating the
// plain-string params the tools package declares (to stay import-cycle
// free) into memory's typed Scope/ItemType enums.
type memoryAdapter struct {
	store *memory.Store
}

func newMemoryAdapter(store *memory.Store) *memoryAdapter {
	return &memoryAdapter{store: store}
}

func (m *memoryAdapter) Query(ctx context.Context, query string, topK int) ([]string, error) {
	items, err := m.store.Query(ctx, memory.QueryParams{Query: query, TopK: topK})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, formatMemoryItem(item))
	}
	return out, nil
}

func formatMemoryItem(item *memory.Item) string {
	if item.Title != "" {
		return fmt.Sprintf("[%s/%s] %s: %s", item.Scope, item.Type, item.Title, item.Content)
	}
	return fmt.Sprintf("[%s/%s] %s", item.Scope, item.Type, item.Content)
}

func (m *memoryAdapter) Upsert(ctx context.Context, params tools.MemoryUpsertParams) (string, error) {
	scope := memory.ScopeLongTerm
	if params.Scope != "" {
		scope = memory.Scope(params.Scope)
	}
	itemType := memory.TypeNote
	if params.Type != "" {
		itemType = memory.ItemType(params.Type)
	}
	item, err := m.store.Upsert(ctx, memory.UpsertParams{
		Scope:      scope,
		Type:       itemType,
		Title:      params.Title,
		Content:    params.Content,
		Summary:    params.Summary,
		Tags:       params.Tags,
		Channel:    params.Channel,
		Importance: params.Importance,
		DedupKey:   params.DedupKey,
	})
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

func (m *memoryAdapter) Forget(ctx context.Context, id string) error {
	_, err := m.store.SoftDelete(ctx, id)
	return err
}

// cronAdapter bridges internal/cron.Scheduler to tools.CronHandle,
// translating the tool call's plain-string CronJobSpec into the
// scheduler's NormalizedSchedule/Payload pair.
type cronAdapter struct {
	scheduler *cron.Scheduler
}

func newCronAdapter(scheduler *cron.Scheduler) *cronAdapter {
	return &cronAdapter{scheduler: scheduler}
}

func (c *cronAdapter) CreateJob(ctx context.Context, spec tools.CronJobSpec) (string, error) {
	normalized, err := parseCronSpecSchedule(spec.Schedule)
	if err != nil {
		return "", err
	}
	payload := &cron.Payload{Deliver: spec.Deliver, To: spec.DeliverTo}
	switch {
	case spec.SkillName != "":
		payload.Kind = cron.PayloadSkillRhai
		payload.SkillName = spec.SkillName
	default:
		payload.Kind = cron.PayloadAgentTurn
		payload.Message = spec.AgentTurn
	}
	job, err := cron.NewJobFromCreate(&cron.CronJobCreate{
		Name:     spec.Name,
		Enabled:  true,
		Schedule: normalized,
		Payload:  payload,
	})
	if err != nil {
		return "", err
	}
	if err := c.scheduler.RegisterJob(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (c *cronAdapter) ListJobs(ctx context.Context) ([]tools.CronJobSummary, error) {
	jobs := c.scheduler.Jobs()
	out := make([]tools.CronJobSummary, 0, len(jobs))
	for _, job := range jobs {
		summary := tools.CronJobSummary{ID: job.ID, Name: job.Name, Enabled: job.Enabled}
		if job.State.NextRunAt != nil {
			summary.NextRunAt = job.State.NextRunAt.Format(time.RFC3339)
		}
		if job.State.LastRunAt != nil {
			summary.LastRunAt = job.State.LastRunAt.Format(time.RFC3339)
		}
		out = append(out, summary)
	}
	return out, nil
}

func (c *cronAdapter) CancelJob(ctx context.Context, id string) error {
	if !c.scheduler.UnregisterJob(ctx, id) {
		return fmt.Errorf("cron job %q not found", id)
	}
	return nil
}

// parseCronSpecSchedule decodes the "at:"/"every:"/"cron:" prefixed
// schedule string a tool call supplies into a cron.NormalizedSchedule.
func parseCronSpecSchedule(raw string) (*cron.NormalizedSchedule, error) {
	kind, rest, err := splitScheduleSpec(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "cron":
		return &cron.NormalizedSchedule{Kind: cron.ScheduleCron, Expr: rest}, nil
	case "every":
		d, err := time.ParseDuration(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid every duration %q: %w", rest, err)
		}
		return &cron.NormalizedSchedule{Kind: cron.ScheduleEvery, EveryMs: d.Milliseconds()}, nil
	case "at":
		t, err := time.Parse(time.RFC3339, rest)
		if err != nil {
			return nil, fmt.Errorf("invalid at timestamp %q: %w", rest, err)
		}
		return &cron.NormalizedSchedule{Kind: cron.ScheduleAt, AtMs: t.UnixMilli()}, nil
	default:
		return nil, fmt.Errorf("unrecognized schedule kind %q (want at:/every:/cron:)", kind)
	}
}

func splitScheduleSpec(raw string) (kind, rest string, err error) {
	for _, prefix := range []string{"at:", "every:", "cron:"} {
		if len(raw) > len(prefix) && raw[:len(prefix)] == prefix {
			return prefix[:len(prefix)-1], raw[len(prefix):], nil
		}
	}
	return "", "", fmt.Errorf("schedule %q missing at:/every:/cron: prefix", raw)
}

// taskAdapter bridges internal/tasks.Store to tools.TaskHandle, running
// a spawned task as a one-shot ScheduledTask (stored already disabled,
// NextRunAt set to the spawn time, and executed directly by the adapter)
// rather than wiring the ad hoc call through the recurring
// tasks.Scheduler poll loop.
type taskAdapter struct {
	store    tasks.Store
	executor *tasks.AgentExecutor
	agentID  string
}

func newTaskAdapter(store tasks.Store, executor *tasks.AgentExecutor, agentID string) *taskAdapter {
	return &taskAdapter{store: store, executor: executor, agentID: agentID}
}

func (t *taskAdapter) Spawn(ctx context.Context, label, description string) (string, error) {
	now := time.Now()
	task := &tasks.ScheduledTask{
		ID:          uuid.NewString(),
		Name:        label,
		Description: description,
		AgentID:     t.agentID,
		Schedule:    "",
		Prompt:      description,
		Config:      tasks.DefaultTaskConfig(),
		Status:      tasks.TaskStatusDisabled,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create spawned task: %w", err)
	}

	exec := &tasks.TaskExecution{
		ID:            uuid.NewString(),
		TaskID:        task.ID,
		Status:        tasks.ExecutionStatusRunning,
		ScheduledAt:   now,
		Prompt:        description,
		AttemptNumber: 1,
	}
	if err := t.store.CreateExecution(ctx, exec); err != nil {
		return "", fmt.Errorf("create spawned task execution: %w", err)
	}

	go t.run(task, exec)
	return exec.ID, nil
}

func (t *taskAdapter) run(task *tasks.ScheduledTask, exec *tasks.TaskExecution) {
	ctx, cancel := context.WithTimeout(context.Background(), spawnedTaskTimeout(task))
	defer cancel()

	response, err := t.executor.Execute(ctx, task, exec)
	status, errMsg := tasks.ExecutionStatusSucceeded, ""
	if err != nil {
		status, errMsg = tasks.ExecutionStatusFailed, err.Error()
	}
	_ = t.store.CompleteExecution(ctx, exec.ID, status, response, errMsg)
}

func spawnedTaskTimeout(task *tasks.ScheduledTask) time.Duration {
	if task.Config.Timeout > 0 {
		return task.Config.Timeout
	}
	return 5 * time.Minute
}

func (t *taskAdapter) Status(ctx context.Context, id string) (string, error) {
	exec, err := t.store.GetExecution(ctx, id)
	if err != nil {
		return "", err
	}
	if exec == nil {
		return "", fmt.Errorf("task execution %q not found", id)
	}
	switch exec.Status {
	case tasks.ExecutionStatusSucceeded:
		return fmt.Sprintf("succeeded: %s", exec.Response), nil
	case tasks.ExecutionStatusFailed, tasks.ExecutionStatusTimedOut:
		return fmt.Sprintf("%s: %s", exec.Status, exec.Error), nil
	default:
		return string(exec.Status), nil
	}
}

// runtimeBridge adapts *agent.Runtime (which streams its own
// agent.ResponseChunk) to tasks.AgentRuntime (which wants the package's
// own mirror RuntimeChunk), keeping internal/tasks decoupled from
// internal/agent per tasks/executor.go's documented import-cycle
// avoidance.
type runtimeBridge struct {
	runtime *agent.Runtime
}

func (b *runtimeBridge) Process(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *tasks.RuntimeChunk, error) {
	chunks, err := b.runtime.Process(ctx, session, msg)
	if err != nil {
		return nil, err
	}
	out := make(chan *tasks.RuntimeChunk)
	go func() {
		defer close(out)
		for chunk := range chunks {
			if chunk.Error != nil {
				out <- &tasks.RuntimeChunk{Error: chunk.Error}
				continue
			}
			if chunk.Text != "" {
				out <- &tasks.RuntimeChunk{Text: chunk.Text}
			}
		}
	}()
	return out, nil
}
