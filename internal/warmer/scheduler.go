// Package warmer runs background jobs that keep the price caches warm and
// the price store bounded.
package warmer

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/folio/market-engine/internal/metrics"
)

// Job is a scheduled unit of work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// New creates a scheduler. Schedules use the standard five-field cron syntax
// and descriptors such as "@every 10m" or "@daily".
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:  context.Background(),
	}
}

// AddJob registers job under schedule.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.run(s.ctx, job)
	})
	if err != nil {
		return err
	}
	slog.Info("job registered", "job", job.Name(), "schedule", schedule)
	return nil
}

// Start starts the scheduler. Jobs receive ctx and should stop when it is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	return s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	start := time.Now()
	err := job.Run(ctx)
	if err != nil {
		metrics.JobRuns.WithLabelValues(job.Name(), "error").Inc()
		slog.Error("job failed", "job", job.Name(), "err", err)
		return err
	}
	metrics.JobRuns.WithLabelValues(job.Name(), "ok").Inc()
	slog.Debug("job completed", "job", job.Name(), "duration", time.Since(start))
	return nil
}
