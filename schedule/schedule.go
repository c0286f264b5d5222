// Package schedule starts unattended "all" batches on a cron spec
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/bill-scraper/jobs"
)

// RequestedBy marks jobs created by the scheduler
const RequestedBy = "scheduler"

// JobCreator is the part of the orchestrator the scheduler needs
type JobCreator interface {
	CreateJob(ctx context.Context, req jobs.Request) (string, error)
}

// Scheduler triggers batches on a standard five-field cron spec
type Scheduler struct {
	cron    *cron.Cron
	creator JobCreator
	spec    string
	logger  *slog.Logger
	entry   cron.EntryID
}

// New validates spec and registers the batch trigger. The scheduler does
// not run until Start.
func New(spec string, creator JobCreator, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:    cron.New(),
		creator: creator,
		spec:    spec,
		logger:  logger,
	}

	id, err := s.cron.AddFunc(spec, s.trigger)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// trigger creates one "all" job; a conflict with a running job is skipped
func (s *Scheduler) trigger() {
	id, err := s.creator.CreateJob(context.Background(), jobs.Request{
		Mode:        jobs.ModeAll,
		RequestedBy: RequestedBy,
	})
	var conflict *jobs.ConflictError
	switch {
	case errors.As(err, &conflict):
		s.logger.Warn("scheduled batch skipped, a job is already running", "active_job", conflict.ActiveID)
	case err != nil:
		s.logger.Error("scheduled batch failed to start", "error", err)
	default:
		s.logger.Info("scheduled batch started", "job_id", id)
	}
}

// Run starts the scheduler and blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("batch scheduler started", "schedule", s.spec, "next", s.cron.Entry(s.entry).Next)

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("batch scheduler stopped")
	return nil
}
