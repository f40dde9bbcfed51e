package usecase

import (
	"context"
	"time"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/services/reconciliation/domain/repository"
)

// JobName keys the scheduler's run state
const JobName = "reconciliation"

// Scheduler runs reconciliation periodically, each run covering the time
// since the previous successful one
type Scheduler struct {
	engine   *ReconciliationEngine
	state    repository.RunStateStore
	interval time.Duration
	lookback time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

// NewScheduler creates a scheduler. lookback bounds the first run and any run
// whose previous time cannot be read.
func NewScheduler(engine *ReconciliationEngine, state repository.RunStateStore, interval, lookback time.Duration, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		state:    state,
		interval: interval,
		lookback: lookback,
		logger:   logger.WithComponent("reconciliation-scheduler"),
		now:      time.Now,
	}
}

// Run blocks until ctx ends. runNow triggers an immediate first run.
func (s *Scheduler) Run(ctx context.Context, runNow bool) {
	s.logger.Info("Reconciliation scheduler started", logging.Duration("interval", s.interval))
	if runNow {
		s.RunOnce(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reconciliation scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce reconciles since the last successful run and records the new run
// time when it completes
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	startedAt := s.now().UTC()
	from := s.From(ctx)

	if !s.engine.RunReconciliation(ctx, from) {
		return false
	}
	if err := s.state.SetLastRun(ctx, JobName, startedAt); err != nil {
		s.logger.Warn("Failed to store reconciliation run time", logging.Error(err))
	}
	return true
}

// From returns the start of the next reconciliation window
func (s *Scheduler) From(ctx context.Context) time.Time {
	last, ok, err := s.state.LastRun(ctx, JobName)
	if err != nil {
		s.logger.Warn("Failed to read last reconciliation run", logging.Error(err))
	}
	if err != nil || !ok {
		return s.now().UTC().Add(-s.lookback)
	}
	return last
}
