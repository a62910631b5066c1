// Package scheduler maintains the set of timed jobs and fires them
// against the agent when due. Schedules are one-shot timestamps,
// fixed-second intervals, or cron expressions; malformed schedules make
// a job dormant instead of raising.
package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTickInterval is how often due jobs are checked.
const DefaultTickInterval = 60 * time.Second

// Runner executes one prompt against the agent on behalf of a job.
type Runner interface {
	ProcessDirect(ctx context.Context, prompt string, sessionKey string) (string, error)
}

// Service owns the job set. No other component mutates a job's
// NextRunAt or Enabled fields.
type Service struct {
	runner   Runner
	store    *FileStore
	interval time.Duration
	log      *slog.Logger

	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// Options configures the scheduler service.
type Options struct {
	// TickInterval is how often due jobs are evaluated. Defaults to
	// DefaultTickInterval.
	TickInterval time.Duration

	// Store, when non-nil, snapshots the job set to disk after every
	// mutation and reloads it on Start.
	Store *FileStore
}

// New creates a scheduler that executes jobs through runner.
func New(runner Runner, log *slog.Logger, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}

	return &Service{
		runner:   runner,
		store:    opts.Store,
		interval: opts.TickInterval,
		log:      log.With("component", "scheduler"),
		jobs:     make(map[string]*Job),
		now:      time.Now,
	}
}

// Add creates or replaces the job with the given name and computes its
// first run time. Re-adding a name overwrites the previous job.
func (s *Service) Add(name, message string, kind ScheduleKind, value string, deliver bool) *Job {
	now := s.now()
	job := &Job{
		Name:      name,
		Message:   message,
		Kind:      kind,
		Value:     value,
		Deliver:   deliver,
		Enabled:   true,
		CreatedAt: now,
	}
	job.NextRunAt = computeNextRun(kind, value, now)

	s.mu.Lock()
	if _, exists := s.jobs[name]; !exists {
		s.order = append(s.order, name)
	}
	s.jobs[name] = job
	s.mu.Unlock()

	s.log.Info("Job added",
		"name", name,
		"kind", string(kind),
		"value", value,
		"next_run_at", formatNextRun(job.NextRunAt),
	)
	s.snapshot()
	return job
}

// Remove deletes a job by name. A missing name is not an error; the
// return value reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	_, found := s.jobs[name]
	if found {
		delete(s.jobs, name)
		for i, n := range s.order {
			if n == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if found {
		s.log.Info("Job removed", "name", name)
		s.snapshot()
	}
	return found
}

// Get returns the job with the given name.
func (s *Service) Get(name string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[name]
	if !ok {
		return nil, false
	}
	copied := *job
	return &copied, true
}

// Jobs returns a snapshot of all jobs in insertion order.
func (s *Service) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Job, 0, len(s.order))
	for _, name := range s.order {
		if job, ok := s.jobs[name]; ok {
			copied := *job
			result = append(result, &copied)
		}
	}
	return result
}

// Start loads any persisted jobs and begins the tick loop.
func (s *Service) Start(ctx context.Context) {
	if s.store != nil {
		jobs, err := s.store.Load()
		if err != nil {
			s.log.Warn("Could not load persisted jobs", "error", err)
		} else if len(jobs) > 0 {
			s.mu.Lock()
			for _, job := range jobs {
				if _, exists := s.jobs[job.Name]; !exists {
					s.order = append(s.order, job.Name)
				}
				s.jobs[job.Name] = job
			}
			s.mu.Unlock()
			s.log.Info("Jobs loaded from snapshot", "count", len(jobs))
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(loopCtx)
	}()

	s.log.Info("Scheduler started", "tick_interval", s.interval.String())
}

// Stop cancels the tick loop and waits for an in-flight tick to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info("Scheduler stopped")
}

func (s *Service) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick executes every enabled, due job sequentially in insertion order
// and returns the per-job results. A failing job never aborts the tick.
//
// Jobs are independent records; nothing here depends on sequential
// execution beyond the job map's own locking, so a concurrent variant
// could replace this loop without changing the contract.
func (s *Service) Tick(ctx context.Context) []ExecutionResult {
	now := s.now()

	s.mu.RLock()
	due := make([]*Job, 0)
	for _, name := range s.order {
		job, ok := s.jobs[name]
		if !ok || !job.Enabled || job.NextRunAt == nil {
			continue
		}
		if !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	s.mu.RUnlock()

	if len(due) == 0 {
		return nil
	}

	results := make([]ExecutionResult, 0, len(due))
	for _, job := range due {
		if ctx.Err() != nil {
			break
		}

		result := s.execute(ctx, job)
		results = append(results, result)

		s.mu.Lock()
		// The entry may have been overwritten or removed mid-execution;
		// only the instance that fired gets its schedule advanced.
		if current, ok := s.jobs[job.Name]; ok && current == job {
			if job.Kind == ScheduleOnce {
				job.Enabled = false
			}
			job.NextRunAt = computeNextRun(job.Kind, job.Value, s.now())
		}
		s.mu.Unlock()
	}

	s.snapshot()
	return results
}

func (s *Service) execute(ctx context.Context, job *Job) ExecutionResult {
	result := ExecutionResult{JobName: job.Name, ExecutedAt: s.now()}

	output, err := s.runner.ProcessDirect(ctx, job.Message, "cron:job:"+job.Name)
	if err != nil {
		result.Err = err.Error()
		s.log.Error("Job execution failed", "name", job.Name, "error", err)
		return result
	}

	result.Success = true
	result.Output = output
	s.log.Info("Job executed", "name", job.Name, "deliver", job.Deliver)
	return result
}

// snapshot persists the job set when a store is configured.
func (s *Service) snapshot() {
	if s.store == nil {
		return
	}

	if err := s.store.Save(s.Jobs()); err != nil {
		s.log.Warn("Could not snapshot jobs", "error", err)
	}
}

// computeNextRun derives a job's next fire time from its schedule;
// nil means the job never fires again. Malformed values are dormant,
// never an error.
func computeNextRun(kind ScheduleKind, value string, now time.Time) *time.Time {
	switch kind {
	case ScheduleOnce:
		at, err := time.Parse(time.RFC3339, value)
		if err != nil || !at.After(now) {
			return nil
		}
		return &at

	case ScheduleInterval:
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds < 0 {
			return nil
		}
		next := now.Add(time.Duration(seconds) * time.Second)
		return &next

	case ScheduleCron:
		schedule, err := cron.ParseStandard(value)
		if err != nil {
			return nil
		}
		next := schedule.Next(now)
		if next.IsZero() {
			return nil
		}
		return &next

	default:
		return nil
	}
}

func formatNextRun(at *time.Time) string {
	if at == nil {
		return "never"
	}
	return at.Format(time.RFC3339)
}
