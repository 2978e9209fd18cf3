// Package ghost implements the Ghost Service (C10): a background
// persona that runs on its own cron schedule, independent of any
// channel conversation, to perform unattended maintenance (triage
// inbox-like channels, chase stale tasks, post a daily digest) within
// a strict daily budget and a memory-write guardrail. Grounded on
// internal/agents/heartbeat's active-hours/schedule machinery
// (active_hours.go, kept verbatim: the Ghost Service still needs
// "is it an acceptable time to act unprompted" and "when is the next
// slot" exactly as the teacher's heartbeat runner does) and on
// original_source/crates/scheduler/src/ghost.rs for the routine
// prompt shape, daily-cap enforcement, and 5-to-6-field cron
// auto-normalization this package ports in semantics.
package ghost

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/agents/heartbeat"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/cron"
	"github.com/haasonsaas/nexus/pkg/models"
)

// RoutinePrompt is the system prompt prepended to every Ghost turn,
// instructing the agent to act as an unattended maintenance persona
// rather than a conversational assistant. Ported in wording intent
// (not verbatim text) from original_source/crates/scheduler/src/
// ghost.rs's routine prompt.
const RoutinePrompt = "You are running as the Ghost Service: an unattended maintenance routine, not a conversation. " +
	"Check what needs attention (stale tasks, pending reminders, anything flagged for follow-up) and act on it " +
	"directly using your tools. Do not wait for a reply. If nothing needs attention, do nothing and say so briefly. " +
	"Keep any memory you write durable and factual — never log your own routine runs as memory."

// Runner drives an agent turn for the configured Ghost agent on the
// configured cron schedule, applying the daily cap and the
// memory-write guardrail (enforced by internal/tools.MemoryUpsertTool
// when tc.Channel == "ghost"; this package is only responsible for the
// daily cap and for stamping that channel onto every invocation).
type Runner struct {
	cfg     config.GhostConfig
	monitor *heartbeat.Monitor
	runTurn func(ctx context.Context, prompt string) (string, error)
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	dayStart  time.Time
	runsToday int
}

// NewRunner constructs a Ghost runner. runTurn executes one agent turn
// with the given prompt against the Ghost agent and returns its final
// text response (or an error); the composition root supplies this by
// closing over an *agent.Runtime stamped with channel "ghost".
func NewRunner(cfg config.GhostConfig, runTurn func(ctx context.Context, prompt string) (string, error), logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:     cfg,
		monitor: heartbeat.NewMonitor(heartbeat.DefaultConfig()),
		runTurn: runTurn,
		logger:  logger.With("component", "ghost", "agent_id", cfg.AgentID),
		now:     time.Now,
	}
}

// RegisterCronJob builds the cron.Job that fires the Ghost routine on
// cfg.Schedule, normalizing a bare 5-field expression to the 6-field
// (seconds-included) form robfig/cron/v3 expects by prefixing "0 ",
// the same auto-normalization original_source/crates/scheduler/src/
// ghost.rs applies so operators can write ordinary crontab syntax.
func (r *Runner) RegisterCronJob(scheduler *cron.Scheduler) error {
	if !r.cfg.Enabled {
		return nil
	}
	expr := normalizeCronExpr(r.cfg.Schedule)
	sched, err := cron.NewSchedule(cron.NormalizedSchedule{Kind: cron.ScheduleCron, Expr: expr})
	if err != nil {
		return fmt.Errorf("ghost cron schedule %q: %w", r.cfg.Schedule, err)
	}
	job := &cron.Job{
		ID:       "ghost-routine",
		Name:     "ghost routine",
		Enabled:  true,
		Schedule: sched,
		Payload:  cron.Payload{Kind: cron.PayloadAgentTurn, Message: RoutinePrompt},
	}
	return scheduler.RegisterJob(context.Background(), job)
}

// Run executes one Ghost routine invocation, respecting the daily cap.
// Intended to be wired as the cron.AgentRunner for the "ghost-routine"
// job (RegisterCronJob), but also callable directly for an ad hoc run.
func (r *Runner) Run(ctx context.Context, job *cron.Job) (string, error) {
	if !r.tryConsumeBudget() {
		r.logger.Info("ghost daily cap reached, skipping run")
		return "", nil
	}

	response, err := r.runTurn(ctx, RoutinePrompt)
	if err != nil {
		r.monitor.MarkMissed(r.cfg.AgentID)
		return "", fmt.Errorf("ghost routine: %w", err)
	}

	stripped := heartbeat.StripToken(response, heartbeat.DefaultMaxAckChars)
	r.monitor.Record(r.cfg.AgentID, response)
	if stripped.ShouldSkip {
		return "", nil
	}
	return stripped.Text, nil
}

// tryConsumeBudget reports whether today's run count is still under
// cfg.DailyCap, incrementing the count and resetting it at each new
// UTC day boundary.
func (r *Runner) tryConsumeBudget() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	today := now.Truncate(24 * time.Hour)
	if !r.dayStart.Equal(today) {
		r.dayStart = today
		r.runsToday = 0
	}
	cap := r.cfg.DailyCap
	if cap <= 0 {
		cap = 24
	}
	if r.runsToday >= cap {
		return false
	}
	r.runsToday++
	return true
}

// Status returns the underlying heartbeat monitor's status for the
// Ghost agent, reused as-is for operator visibility (stale/healthy).
func (r *Runner) Status() *heartbeat.Status {
	return r.monitor.GetStatus(r.cfg.AgentID)
}

func normalizeCronExpr(expr string) string {
	expr = strings.TrimSpace(expr)
	fields := strings.Fields(expr)
	if len(fields) == 5 {
		return "0 " + expr
	}
	return expr
}

// BuildGhostMessage wraps a prompt as an inbound models.Message stamped
// with channel "ghost", so every downstream tool call (notably
// memory_upsert's guardrail) sees the unattended-routine channel.
func BuildGhostMessage(agentID, prompt string) *models.Message {
	return &models.Message{
		Channel:   models.ChannelType("ghost"),
		ChannelID: agentID,
		Role:      models.RoleUser,
		Content:   prompt,
		CreatedAt: time.Now(),
	}
}
