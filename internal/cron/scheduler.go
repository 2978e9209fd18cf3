package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/config"
)

// Scheduler runs cron jobs: one-shot "at" jobs, fixed-interval "every"
// jobs, and "cron"-expression jobs, dispatching agent_turn and skill_rhai
// payloads to the registered runners.
type Scheduler struct {
	jobs           map[string]*Job
	schedules      map[string]Schedule
	logger         *slog.Logger
	agentRunner    AgentRunner
	skillRunner    SkillRunner
	deliverer      Deliverer
	executionStore ExecutionStore
	store          JobStore
	now            func() time.Time
	tickInterval   time.Duration

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAgentRunner sets the handler for PayloadAgentTurn jobs.
func WithAgentRunner(runner AgentRunner) Option {
	return func(s *Scheduler) { s.agentRunner = runner }
}

// WithSkillRunner sets the handler for PayloadSkillRhai jobs.
func WithSkillRunner(runner SkillRunner) Option {
	return func(s *Scheduler) { s.skillRunner = runner }
}

// WithDeliverer sets the sink for jobs whose payload has Deliver=true.
func WithDeliverer(d Deliverer) Option {
	return func(s *Scheduler) { s.deliverer = d }
}

// WithExecutionStore configures execution history persistence.
func WithExecutionStore(store ExecutionStore) Option {
	return func(s *Scheduler) {
		if store != nil {
			s.executionStore = store
		}
	}
}

// WithJobStore configures job persistence. Required for jobs to survive a
// restart; without it, RegisterJob keeps jobs in memory only.
func WithJobStore(store JobStore) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithNow overrides the scheduler's clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the polling interval between due-job checks.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// NewScheduler creates a scheduler. cfg is not read: Start always starts
// the polling loop, whatever cfg.Enabled says, and RegisterJob works
// whether or not Start has been called.
func NewScheduler(cfg config.CronConfig, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		jobs:           make(map[string]*Job),
		schedules:      make(map[string]Schedule),
		logger:         slog.Default().With("component", "cron"),
		executionStore: NewMemoryExecutionStore(),
		now:            time.Now,
		tickInterval:   5 * time.Second,
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	_ = cfg
	return s, nil
}

// LoadFromStore loads persisted jobs from the configured JobStore, if any.
func (s *Scheduler) LoadFromStore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	jobs, err := s.store.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("load cron jobs: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		s.jobs[job.ID] = job
		s.schedules[job.ID] = job.Schedule
	}
	return nil
}

// Start begins the polling loop. It returns immediately; call Stop to halt.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
	return nil
}

// Stop halts the polling loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce evaluates every registered job once and fires those that are due.
// Returns the number of jobs fired.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	fired := 0
	for _, job := range s.dueJobs() {
		if err := s.runJob(ctx, job); err != nil {
			s.logger.Error("cron job failed", "job_id", job.ID, "error", err)
		} else {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) dueJobs() []*Job {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	for id, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		if job.Schedule.Kind == ScheduleAt && job.State.LastRunAt != nil {
			continue // invariant: an "at" job that has fired never fires again
		}
		sched := s.schedules[id]
		next, ok, err := sched.Next(now)
		if err != nil || !ok {
			continue
		}
		if job.State.NextRunAt == nil {
			job.State.NextRunAt = &next
		}
		if now.Before(*job.State.NextRunAt) {
			continue
		}
		due = append(due, job)
	}
	return due
}

// RegisterJob adds a new job to the scheduler and persists it if a JobStore
// is configured.
func (s *Scheduler) RegisterJob(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Schedule.Kind == "" {
		return fmt.Errorf("job %s: schedule is required", job.ID)
	}
	now := s.now()
	job.CreatedAt = now
	job.UpdatedAt = now

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.schedules[job.ID] = job.Schedule
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("persist cron job: %w", err)
		}
	}
	return nil
}

// NewJobFromCreate builds a Job from a normalized CronJobCreate (the wire
// format NormalizeCronJobCreate produces), resolving the
// NormalizedSchedule to a runtime Schedule. A JobStore persists the
// resulting Job, not the CronJobCreate.
func NewJobFromCreate(create *CronJobCreate) (*Job, error) {
	if create == nil {
		return nil, fmt.Errorf("cron job create payload is required")
	}
	if create.Schedule == nil {
		return nil, fmt.Errorf("cron job %q: schedule is required", create.ID)
	}
	if create.Payload == nil {
		return nil, fmt.Errorf("cron job %q: payload is required", create.ID)
	}
	sched, err := NewSchedule(*create.Schedule)
	if err != nil {
		return nil, fmt.Errorf("cron job %q: %w", create.ID, err)
	}
	id := create.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Job{
		ID:       id,
		Name:     create.Name,
		Enabled:  create.Enabled,
		Schedule: sched,
		Payload:  *create.Payload,
	}, nil
}

// UnregisterJob removes a job by ID.
func (s *Scheduler) UnregisterJob(ctx context.Context, id string) bool {
	s.mu.Lock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	delete(s.schedules, id)
	s.mu.Unlock()
	if ok && s.store != nil {
		_ = s.store.DeleteJob(ctx, id)
	}
	return ok
}

// Jobs returns a snapshot of all registered jobs.
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out
}

// RunJob fires a single job immediately, bypassing its schedule.
func (s *Scheduler) RunJob(ctx context.Context, id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	return s.runJob(ctx, job)
}

// runJob persists LastRunAt before executing (persistence-before-execute),
// so a crash mid-execution cannot cause a duplicate "at"-job fire.
func (s *Scheduler) runJob(ctx context.Context, job *Job) error {
	now := s.now()

	s.mu.Lock()
	job.State.LastRunAt = &now
	sched := s.schedules[job.ID]
	next, ok, _ := sched.Next(now)
	if ok && job.Schedule.Kind != ScheduleAt {
		job.State.NextRunAt = &next
	} else {
		job.State.NextRunAt = nil
	}
	job.UpdatedAt = now
	shouldDelete := job.DeleteAfterRun && (job.Schedule.Kind == ScheduleAt || !ok)
	if shouldDelete {
		delete(s.jobs, job.ID)
		delete(s.schedules, job.ID)
	}
	s.mu.Unlock()

	if s.store != nil {
		if shouldDelete {
			if err := s.store.DeleteJob(ctx, job.ID); err != nil {
				return fmt.Errorf("persist job deletion: %w", err)
			}
		} else if err := s.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("persist job state: %w", err)
		}
	}

	exec := &JobExecution{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Status:    ExecutionRunning,
		StartedAt: now,
	}
	if s.executionStore != nil {
		_ = s.executionStore.Create(ctx, exec)
	}

	output, runErr := s.executeJob(ctx, job)

	exec.CompletedAt = s.now()
	exec.Duration = exec.CompletedAt.Sub(exec.StartedAt)
	if runErr != nil {
		exec.Status = ExecutionFailed
		exec.Error = runErr.Error()
		job.LastError = runErr.Error()
		job.RetryCount++
	} else {
		exec.Status = ExecutionSucceeded
		exec.Output = output
		job.RetryCount = 0
	}
	if s.executionStore != nil {
		_ = s.executionStore.Update(ctx, exec)
	}

	if runErr == nil && job.Payload.Deliver && s.deliverer != nil {
		if err := s.deliverer.Deliver(ctx, job.Payload.Channel, job.Payload.To, output); err != nil {
			s.logger.Error("cron job delivery failed", "job_id", job.ID, "error", err)
		}
	}
	return runErr
}

func (s *Scheduler) executeJob(ctx context.Context, job *Job) (string, error) {
	switch job.Payload.Kind {
	case PayloadAgentTurn:
		if s.agentRunner == nil {
			return "", fmt.Errorf("no agent runner configured")
		}
		return s.agentRunner.Run(ctx, job)
	case PayloadSkillRhai:
		if s.skillRunner == nil {
			return "", fmt.Errorf("no skill runner configured")
		}
		return s.skillRunner.RunSkill(ctx, job.Payload.SkillName, job)
	default:
		return "", fmt.Errorf("unsupported payload kind: %s", job.Payload.Kind)
	}
}

// Executions returns execution history for a job.
func (s *Scheduler) Executions(ctx context.Context, jobID string, limit, offset int) ([]*JobExecution, error) {
	if s.executionStore == nil {
		return nil, nil
	}
	return s.executionStore.List(ctx, jobID, limit, offset)
}

// PruneExecutions removes execution history older than the given age.
func (s *Scheduler) PruneExecutions(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s.executionStore == nil {
		return 0, nil
	}
	return s.executionStore.Prune(ctx, olderThan)
}
