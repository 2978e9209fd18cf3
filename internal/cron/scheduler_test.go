package cron

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/config"
)

func newTestScheduler(t *testing.T, now time.Time, opts ...Option) *Scheduler {
	t.Helper()
	base := []Option{WithNow(func() time.Time { return now })}
	s, err := NewScheduler(config.CronConfig{Enabled: true}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	return s
}

func atJob(id string, at time.Time) *Job {
	return &Job{
		ID:      id,
		Name:    id,
		Enabled: true,
		Schedule: Schedule{
			Kind: ScheduleAt,
			At:   at,
		},
		Payload: Payload{Kind: PayloadAgentTurn, Message: "hello"},
	}
}

func TestScheduler_RegisterAndRunAtJob(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var ran int
	s := newTestScheduler(t, now, WithAgentRunner(AgentRunnerFunc(func(ctx context.Context, job *Job) (string, error) {
		ran++
		return "ok", nil
	})))

	ctx := context.Background()
	job := atJob("job-1", now)
	if err := s.RegisterJob(ctx, job); err != nil {
		t.Fatalf("RegisterJob() error = %v", err)
	}

	fired := s.RunOnce(ctx)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if ran != 1 {
		t.Fatalf("agent runner called %d times, want 1", ran)
	}

	// Invariant: an "at" job with LastRunAt set must never fire again.
	fired = s.RunOnce(ctx)
	if fired != 0 {
		t.Fatalf("expected at-job not to refire, fired = %d", fired)
	}
	if ran != 1 {
		t.Fatalf("agent runner called again, want still 1, got %d", ran)
	}
}

func TestScheduler_SkillRhaiPayload(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var gotSkill string
	s := newTestScheduler(t, now, WithSkillRunner(SkillRunnerFunc(func(ctx context.Context, skillName string, job *Job) (string, error) {
		gotSkill = skillName
		return "done", nil
	})))

	ctx := context.Background()
	job := &Job{
		ID:       "skill-job",
		Enabled:  true,
		Schedule: Schedule{Kind: ScheduleAt, At: now},
		Payload:  Payload{Kind: PayloadSkillRhai, SkillName: "daily-digest"},
	}
	if err := s.RegisterJob(ctx, job); err != nil {
		t.Fatalf("RegisterJob() error = %v", err)
	}
	if fired := s.RunOnce(ctx); fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if gotSkill != "daily-digest" {
		t.Errorf("skill name = %q, want %q", gotSkill, "daily-digest")
	}
}

func TestScheduler_DeleteAfterRun(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, WithAgentRunner(AgentRunnerFunc(func(ctx context.Context, job *Job) (string, error) {
		return "ok", nil
	})))

	ctx := context.Background()
	job := atJob("ephemeral", now)
	job.DeleteAfterRun = true
	if err := s.RegisterJob(ctx, job); err != nil {
		t.Fatalf("RegisterJob() error = %v", err)
	}
	s.RunOnce(ctx)

	if len(s.Jobs()) != 0 {
		t.Fatalf("expected job removed after firing, jobs = %v", s.Jobs())
	}
}

func TestScheduler_Delivery(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var delivered string
	s := newTestScheduler(t, now,
		WithAgentRunner(AgentRunnerFunc(func(ctx context.Context, job *Job) (string, error) {
			return "the result", nil
		})),
		WithDeliverer(DelivererFunc(func(ctx context.Context, channel, to, content string) error {
			delivered = content
			return nil
		})),
	)

	ctx := context.Background()
	job := atJob("deliver-job", now)
	job.Payload.Deliver = true
	job.Payload.Channel = "telegram"
	job.Payload.To = "123"
	if err := s.RegisterJob(ctx, job); err != nil {
		t.Fatalf("RegisterJob() error = %v", err)
	}
	s.RunOnce(ctx)

	if delivered != "the result" {
		t.Errorf("delivered = %q, want %q", delivered, "the result")
	}
}

func TestScheduler_RetryTracksFailures(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, WithAgentRunner(AgentRunnerFunc(func(ctx context.Context, job *Job) (string, error) {
		return "", fmt.Errorf("boom")
	})))

	ctx := context.Background()
	job := atJob("failing-job", now)
	if err := s.RegisterJob(ctx, job); err != nil {
		t.Fatalf("RegisterJob() error = %v", err)
	}
	if err := s.RunJob(ctx, job.ID); err == nil {
		t.Fatal("expected error from failing job")
	}
	if job.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", job.RetryCount)
	}
	if job.LastError == "" {
		t.Error("expected LastError to be set")
	}
}

func TestScheduler_RunJob_NotFound(t *testing.T) {
	s := newTestScheduler(t, time.Now())
	if err := s.RunJob(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing job")
	}
}

func TestScheduler_UnregisterJob(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now)
	ctx := context.Background()
	job := atJob("to-remove", now.Add(time.Hour))
	if err := s.RegisterJob(ctx, job); err != nil {
		t.Fatalf("RegisterJob() error = %v", err)
	}
	if !s.UnregisterJob(ctx, job.ID) {
		t.Fatal("expected UnregisterJob to return true")
	}
	if len(s.Jobs()) != 0 {
		t.Fatalf("expected no jobs remaining, got %d", len(s.Jobs()))
	}
}

func TestScheduler_RunOnce_NoReadyJobs(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now)
	ctx := context.Background()
	job := atJob("future", now.Add(time.Hour))
	if err := s.RegisterJob(ctx, job); err != nil {
		t.Fatalf("RegisterJob() error = %v", err)
	}
	if fired := s.RunOnce(ctx); fired != 0 {
		t.Fatalf("fired = %d, want 0", fired)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler(t, time.Now(), WithTickInterval(time.Millisecond))
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatal("expected error starting an already-started scheduler")
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

type fakeJobStore struct {
	saved   map[string]*Job
	deleted []string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{saved: make(map[string]*Job)}
}

func (f *fakeJobStore) LoadJobs(ctx context.Context) ([]*Job, error) {
	out := make([]*Job, 0, len(f.saved))
	for _, j := range f.saved {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobStore) SaveJob(ctx context.Context, job *Job) error {
	f.saved[job.ID] = job
	return nil
}

func (f *fakeJobStore) DeleteJob(ctx context.Context, id string) error {
	delete(f.saved, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func TestScheduler_PersistenceBeforeExecute(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	s := newTestScheduler(t, now,
		WithJobStore(store),
		WithAgentRunner(AgentRunnerFunc(func(ctx context.Context, job *Job) (string, error) {
			return "ok", nil
		})),
	)
	ctx := context.Background()
	job := atJob("persisted", now)
	if err := s.RegisterJob(ctx, job); err != nil {
		t.Fatalf("RegisterJob() error = %v", err)
	}
	s.RunOnce(ctx)

	saved, ok := store.saved["persisted"]
	if !ok {
		t.Fatal("expected job state to be persisted")
	}
	if saved.State.LastRunAt == nil {
		t.Error("expected LastRunAt persisted before/at execution")
	}
}
