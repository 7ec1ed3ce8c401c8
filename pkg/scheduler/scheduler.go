// Package scheduler runs the engine's periodic jobs on cron schedules and
// reconciles the running entries against the desired set.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one schedulable unit of work.
type Job struct {
	Name string
	Spec string // standard 5-field cron expression
	Run  func(ctx context.Context) error
}

// Scheduler owns the cron runner. Jobs are registered through Reconcile so
// config reloads converge the running set instead of stacking duplicates.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]entryRecord // keyed by job name
}

type entryRecord struct {
	id   cron.EntryID
	spec string
}

// New creates a stopped Scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger.Named("scheduler"),
		entries: make(map[string]entryRecord),
	}
}

// Reconcile converges the running entries to the desired jobs: new jobs are
// added, jobs whose spec changed are replaced, jobs no longer desired are
// removed, and unchanged jobs keep their entry. Reconciling the same set
// twice is a no-op.
func (s *Scheduler) Reconcile(ctx context.Context, jobs []Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	desired := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		desired[job.Name] = true

		existing, ok := s.entries[job.Name]
		if ok && existing.spec == job.Spec {
			continue
		}
		if ok {
			s.cron.Remove(existing.id)
			s.logger.Info("job rescheduled",
				zap.String("job", job.Name),
				zap.String("old_spec", existing.spec),
				zap.String("new_spec", job.Spec))
		}

		id, err := s.cron.AddFunc(job.Spec, s.wrap(ctx, job))
		if err != nil {
			return err
		}
		s.entries[job.Name] = entryRecord{id: id, spec: job.Spec}
		if !ok {
			s.logger.Info("job scheduled",
				zap.String("job", job.Name),
				zap.String("spec", job.Spec))
		}
	}

	for name, record := range s.entries {
		if !desired[name] {
			s.cron.Remove(record.id)
			delete(s.entries, name)
			s.logger.Info("job removed", zap.String("job", name))
		}
	}

	return nil
}

func (s *Scheduler) wrap(ctx context.Context, job Job) func() {
	return func() {
		s.logger.Info("job started", zap.String("job", job.Name))
		if err := job.Run(ctx); err != nil {
			// Failures are logged and the job waits for its next tick.
			s.logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
			return
		}
		s.logger.Info("job finished", zap.String("job", job.Name))
	}
}

// EntryCount returns the number of scheduled jobs.
func (s *Scheduler) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
