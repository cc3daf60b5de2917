package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Service schedules and executes registered maintenance jobs. Jobs are
// registered in code at startup; only their runtime state is persisted,
// so a restarted daemon picks up last-run bookkeeping by job name.
type Service struct {
	jobs    map[string]*Job
	tasks   map[string]TaskFunc
	timers  map[string]*time.Timer
	options ServiceOptions
	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService creates a maintenance service. Persisted job state is
// loaded eagerly; jobs themselves appear as Register is called.
func NewService(opts ServiceOptions) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		jobs:    make(map[string]*Job),
		tasks:   make(map[string]TaskFunc),
		timers:  make(map[string]*time.Timer),
		options: opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := s.loadState(); err != nil {
		log.Warn().Err(err).Msg("Failed to load maintenance state, starting fresh")
	}

	return s
}

// Register adds a maintenance job and schedules it. State persisted
// under the same name from a previous run is carried over.
func (s *Service) Register(name, description string, schedule Schedule, task TaskFunc) (*Job, error) {
	if name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	if task == nil {
		return nil, fmt.Errorf("job task is required")
	}

	nextRunAtMs, err := CalculateNextRun(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("service is stopped")
	}
	if _, exists := s.tasks[name]; exists {
		return nil, fmt.Errorf("job already registered: %s", name)
	}

	job, carried := s.jobs[name]
	if carried {
		job.Description = description
		job.Schedule = schedule
	} else {
		job = &Job{
			Name:        name,
			Description: description,
			CreatedAtMs: Now(),
			Schedule:    schedule,
		}
		s.jobs[name] = job
	}
	job.Enabled = true
	job.State.RunningAtMs = nil
	job.State.NextRunAtMs = Int64Ptr(nextRunAtMs)

	s.tasks[name] = task
	s.scheduleJobLocked(job)

	if err := s.persist(); err != nil {
		log.Warn().Err(err).Str("job", name).Msg("Failed to persist maintenance state")
	}

	log.Info().
		Str("job", name).
		Time("nextRun", time.UnixMilli(nextRunAtMs)).
		Msg("Maintenance job registered")

	s.emit(Event{Action: EventActionRegistered, Job: name, NextRunAtMs: job.State.NextRunAtMs})

	return job, nil
}

// RunNow executes a job immediately, outside its schedule
func (s *Service) RunNow(name string) error {
	s.mu.RLock()
	job, exists := s.jobs[name]
	_, hasTask := s.tasks[name]
	s.mu.RUnlock()

	if !exists || !hasTask {
		return fmt.Errorf("job not found: %s", name)
	}

	go s.executeJob(job)
	return nil
}

// Jobs returns all registered jobs sorted by creation time
func (s *Service) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for name, job := range s.jobs {
		if _, ok := s.tasks[name]; ok {
			jobs = append(jobs, job)
		}
	}
	for i := 0; i < len(jobs)-1; i++ {
		for j := i + 1; j < len(jobs); j++ {
			if jobs[j].CreatedAtMs < jobs[i].CreatedAtMs {
				jobs[i], jobs[j] = jobs[j], jobs[i]
			}
		}
	}
	return jobs
}

// Stop gracefully shuts down the service
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	s.stopped = true
	s.cancel()

	for name, timer := range s.timers {
		timer.Stop()
		delete(s.timers, name)
	}

	if err := s.persist(); err != nil {
		log.Error().Err(err).Msg("Failed to persist maintenance state on shutdown")
		return err
	}

	log.Info().Msg("Maintenance service stopped")
	return nil
}

// scheduleJobLocked arms a job's timer (must hold lock)
func (s *Service) scheduleJobLocked(job *Job) {
	if job.State.NextRunAtMs == nil {
		log.Warn().Str("job", job.Name).Msg("Cannot schedule job without next run time")
		return
	}

	delay := *job.State.NextRunAtMs - Now()
	if delay < 0 {
		delay = 0
	}

	s.timers[job.Name] = time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		s.executeJob(job)
	})

	log.Debug().
		Str("job", job.Name).
		Int64("delayMs", delay).
		Msg("Maintenance job scheduled")
}

func (s *Service) executeJob(job *Job) {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()
		return
	}
	if job.State.RunningAtMs != nil {
		s.mu.Unlock()
		log.Debug().Str("job", job.Name).Msg("Job already running, skipping execution")
		return
	}

	task := s.tasks[job.Name]
	if task == nil {
		s.mu.Unlock()
		return
	}

	startMs := Now()
	job.State.RunningAtMs = Int64Ptr(startMs)
	s.mu.Unlock()

	log.Debug().Str("job", job.Name).Msg("Executing maintenance job")

	err := task(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	durationMs := Now() - startMs
	job.State.RunningAtMs = nil
	job.State.LastRunAtMs = Int64Ptr(startMs)
	job.State.LastDurationMs = Int64Ptr(durationMs)

	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		job.State.ConsecutiveErrors++

		log.Error().
			Str("job", job.Name).
			Err(err).
			Int("consecutiveErrors", job.State.ConsecutiveErrors).
			Msg("Maintenance job failed")
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
		job.State.ConsecutiveErrors = 0

		log.Debug().
			Str("job", job.Name).
			Int64("durationMs", durationMs).
			Msg("Maintenance job completed")
	}

	nextRunAtMs, calcErr := CalculateNextRun(job.Schedule)
	if calcErr != nil {
		// One-shot "at" schedules land here once they have fired
		job.State.NextRunAtMs = nil
	} else {
		job.State.NextRunAtMs = Int64Ptr(nextRunAtMs)
	}

	if persistErr := s.persist(); persistErr != nil {
		log.Error().Err(persistErr).Msg("Failed to persist maintenance state")
	}

	s.emit(Event{
		Action:      EventActionFinished,
		Job:         job.Name,
		Status:      job.State.LastStatus,
		Error:       job.State.LastError,
		DurationMs:  Int64Ptr(durationMs),
		NextRunAtMs: job.State.NextRunAtMs,
	})

	if !s.stopped && job.Enabled && calcErr == nil {
		s.scheduleJobLocked(job)
	}
}

func (s *Service) emit(evt Event) {
	if s.options.OnEvent != nil {
		s.options.OnEvent(evt)
	}
}

func (s *Service) loadState() error {
	if s.options.StorePath == "" {
		return nil
	}
	if _, err := os.Stat(s.options.StorePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(s.options.StorePath)
	if err != nil {
		return fmt.Errorf("failed to read maintenance state: %w", err)
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("failed to parse maintenance state: %w", err)
	}

	for _, job := range jobs {
		s.jobs[job.Name] = job
	}
	return nil
}

func (s *Service) persist() error {
	if s.options.StorePath == "" {
		return nil
	}

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal maintenance state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.options.StorePath), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tempFile := s.options.StorePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.options.StorePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
