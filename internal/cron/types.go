package cron

import (
	"context"
	"time"
)

// JobState tracks a job's last/next fire times.
type JobState struct {
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
}

// Job represents a scheduled job: {id, name, enabled, schedule, payload,
// state, delete_after_run}. A job with schedule kind "at" whose LastRunAt is
// set must never fire again; DeleteAfterRun additionally removes it from
// the store once it has fired.
type Job struct {
	ID              string
	Name            string
	Enabled         bool
	Schedule        Schedule
	Payload         Payload
	State           JobState
	DeleteAfterRun  bool
	LastError       string
	RetryCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AgentRunner executes a job whose payload kind is PayloadAgentTurn.
type AgentRunner interface {
	Run(ctx context.Context, job *Job) (string, error)
}

// AgentRunnerFunc adapts a function to an AgentRunner.
type AgentRunnerFunc func(ctx context.Context, job *Job) (string, error)

// Run executes the agent runner function.
func (f AgentRunnerFunc) Run(ctx context.Context, job *Job) (string, error) {
	return f(ctx, job)
}

// SkillRunner executes a job whose payload kind is PayloadSkillRhai.
type SkillRunner interface {
	RunSkill(ctx context.Context, skillName string, job *Job) (string, error)
}

// SkillRunnerFunc adapts a function to a SkillRunner.
type SkillRunnerFunc func(ctx context.Context, skillName string, job *Job) (string, error)

// RunSkill executes the skill runner function.
func (f SkillRunnerFunc) RunSkill(ctx context.Context, skillName string, job *Job) (string, error) {
	return f(ctx, skillName, job)
}

// Deliverer sends a job's rendered output to a channel/recipient when
// Payload.Deliver is set.
type Deliverer interface {
	Deliver(ctx context.Context, channel, to, content string) error
}

// DelivererFunc adapts a function to a Deliverer.
type DelivererFunc func(ctx context.Context, channel, to, content string) error

// Deliver sends the rendered output via the deliverer function.
func (f DelivererFunc) Deliver(ctx context.Context, channel, to, content string) error {
	return f(ctx, channel, to, content)
}
