/**
 * @description
 * Cron scheduler setup for background jobs.
 */
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a unit of scheduled work.
type Job interface {
	Run()
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler creates a scheduler whose jobs recover from panics.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "scheduler"))
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{cron: c, logger: logger}
}

// Register adds job under schedule. An empty schedule disables the job.
func (s *Scheduler) Register(name, schedule string, job Job) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		s.logger.Info("job disabled", zap.String("job", name))
		return nil
	}
	if _, err := s.cron.AddJob(schedule, job); err != nil {
		s.logger.Error("failed to schedule job", zap.String("job", name), zap.String("schedule", schedule), zap.Error(err))
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Info("scheduled job", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start starts the cron scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
