// Package scheduler runs recurring agent commands on cron schedules.
// Cron parsing and firing comes from robfig/cron; job definitions persist
// through a pluggable JobStorage so schedules survive restarts.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Config holds scheduler settings.
type Config struct {
	// Enabled turns the scheduler on. Jobs can still be listed and edited
	// while disabled; they just never fire.
	Enabled bool `yaml:"enabled"`

	// JobTimeoutSeconds caps a single job execution (default 300).
	JobTimeoutSeconds int `yaml:"job_timeout_seconds"`
}

// DefaultConfig returns scheduler defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		JobTimeoutSeconds: 300,
	}
}

// Job is one scheduled command.
type Job struct {
	// ID is the unique job identifier. Generated when empty.
	ID string `json:"id"`

	// Schedule is a standard 5-field cron expression or a descriptor
	// like @hourly / @every 10m.
	Schedule string `json:"schedule"`

	// Command is the prompt handed to the agent when the job fires.
	Command string `json:"command"`

	// Session is the session key the job runs under, so its work
	// serializes with interactive traffic on the same conversation.
	Session string `json:"session,omitempty"`

	// Enabled controls whether the job is registered with cron.
	Enabled bool `json:"enabled"`

	// TimeoutSeconds overrides the global job timeout for this job.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	RunCount  int        `json:"run_count"`
}

// JobHandler executes a fired job and returns the agent output.
type JobHandler func(ctx context.Context, job *Job) (string, error)

// JobStorage persists job definitions.
type JobStorage interface {
	Save(job *Job) error
	Delete(id string) error
	LoadAll() ([]*Job, error)
}

// minJobInterval guards against cron firing the same job twice within the
// same second boundary.
const minJobInterval = 2 * time.Second

// Scheduler owns the cron engine and the in-memory job table.
type Scheduler struct {
	cfg     Config
	storage JobStorage
	handler JobHandler
	logger  *slog.Logger

	cron    *cron.Cron
	cronIDs map[string]cron.EntryID

	mu      sync.RWMutex
	jobs    map[string]*Job
	running map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. The handler runs fired jobs; storage may be nil
// for an in-memory scheduler (tests).
func New(cfg Config, storage JobStorage, handler JobHandler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JobTimeoutSeconds <= 0 {
		cfg.JobTimeoutSeconds = DefaultConfig().JobTimeoutSeconds
	}
	return &Scheduler{
		cfg:     cfg,
		storage: storage,
		handler: handler,
		logger:  logger.With("component", "scheduler"),
		cronIDs: make(map[string]cron.EntryID),
		jobs:    make(map[string]*Job),
		running: make(map[string]bool),
	}
}

// Start loads persisted jobs and begins firing enabled ones.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	if s.storage != nil {
		jobs, err := s.storage.LoadAll()
		if err != nil {
			s.logger.Error("failed to load jobs", "error", err)
		} else {
			s.mu.Lock()
			for _, job := range jobs {
				s.jobs[job.ID] = job
				if job.Enabled {
					if err := s.registerLocked(job); err != nil {
						s.logger.Warn("skipping job with invalid schedule",
							"id", job.ID, "schedule", job.Schedule, "error", err)
					}
				}
			}
			s.mu.Unlock()
			s.logger.Info("jobs loaded from storage", "count", len(jobs))
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.cron.Entries()))
	return nil
}

// Stop halts firing and waits briefly for in-flight jobs.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		done := s.cron.Stop()
		select {
		case <-done.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// Add registers a new job. An empty ID is filled in; the schedule is
// validated before the job is accepted.
func (s *Scheduler) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Schedule == "" {
		return fmt.Errorf("job schedule is required")
	}
	if job.Command == "" {
		return fmt.Errorf("job command is required")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()[:8]
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	job.CreatedAt = time.Now().UTC()

	if s.cron != nil && job.Enabled {
		if err := s.registerLocked(job); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
		}
	}
	s.jobs[job.ID] = job

	if s.storage != nil {
		if err := s.storage.Save(job); err != nil {
			s.logger.Error("failed to persist job", "id", job.ID, "error", err)
		}
	}

	s.logger.Info("job added", "id", job.ID, "schedule", job.Schedule, "session", job.Session)
	return nil
}

// Remove deletes a job by ID.
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return fmt.Errorf("job %q not found", jobID)
	}
	if entryID, ok := s.cronIDs[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, jobID)
	}
	delete(s.jobs, jobID)

	if s.storage != nil {
		if err := s.storage.Delete(jobID); err != nil {
			s.logger.Error("failed to remove job from storage", "id", jobID, "error", err)
		}
	}

	s.logger.Info("job removed", "id", jobID)
	return nil
}

// List returns a snapshot of all registered jobs.
func (s *Scheduler) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Get returns a job by ID.
func (s *Scheduler) Get(jobID string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

// registerLocked adds the job to the cron engine. Caller holds s.mu.
func (s *Scheduler) registerLocked(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.execute(job)
	})
	if err != nil {
		return err
	}
	s.cronIDs[job.ID] = entryID
	return nil
}

// execute runs one firing of a job with the usual guards: a per-job lock
// against overlapping runs, a minimum interval against same-second double
// fires, panic recovery, and a per-run timeout.
func (s *Scheduler) execute(job *Job) {
	s.mu.Lock()
	if s.running[job.ID] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "id", job.ID)
		return
	}
	if job.LastRunAt != nil && time.Since(*job.LastRunAt) < minJobInterval {
		s.mu.Unlock()
		s.logger.Debug("skipping job (fired too recently)", "id", job.ID)
		return
	}
	s.running[job.ID] = true
	now := time.Now().UTC()
	job.LastRunAt = &now
	job.RunCount++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()

		if r := recover(); r != nil {
			s.mu.Lock()
			job.LastError = fmt.Sprintf("panic: %v", r)
			_, stillExists := s.jobs[job.ID]
			s.mu.Unlock()
			s.logger.Error("scheduled job panicked", "id", job.ID, "panic", r)
			if s.storage != nil && stillExists {
				s.storage.Save(job)
			}
		}
	}()

	// Persist LastRunAt before running so a crash mid-execution does not
	// refire the job immediately on restart.
	if s.storage != nil {
		s.storage.Save(job)
	}

	if s.handler == nil {
		s.mu.Lock()
		job.LastError = "no handler configured"
		s.mu.Unlock()
		return
	}

	timeout := time.Duration(s.cfg.JobTimeoutSeconds) * time.Second
	if job.TimeoutSeconds > 0 {
		timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	s.logger.Info("executing scheduled job", "id", job.ID, "session", job.Session)
	start := time.Now()
	result, err := s.handler(ctx, job)
	duration := time.Since(start)

	s.mu.Lock()
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	_, stillExists := s.jobs[job.ID]
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled job failed", "id", job.ID, "error", err, "duration", duration)
	} else {
		s.logger.Info("scheduled job completed", "id", job.ID, "result_len", len(result), "duration", duration)
	}

	if s.storage != nil && stillExists {
		s.storage.Save(job)
	}
}
