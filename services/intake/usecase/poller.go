package usecase

import (
	"context"
	"time"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/services/intake/domain/service"
)

// Poller feeds every file that appears in a source through BatchIntake
type Poller struct {
	source   service.FileSource
	intake   *BatchIntake
	interval time.Duration
	logger   *logging.Logger
}

// NewPoller creates a poller
func NewPoller(source service.FileSource, intake *BatchIntake, interval time.Duration, logger *logging.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		source:   source,
		intake:   intake,
		interval: interval,
		logger:   logger.WithComponent("intake-poller"),
	}
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Starting intake poller", logging.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil {
			p.logger.Error("Failed to list inbound files", logging.Error(err))
		}

		select {
		case <-ctx.Done():
			p.logger.Info("Intake poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce processes the files currently waiting and returns how many were
// taken off the source
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	names, err := p.source.List(ctx)
	if err != nil {
		return 0, err
	}

	consumed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		result, err := p.intake.Intake(ctx, p.source, name)
		if err != nil {
			p.logger.Warn("File not accepted",
				logging.String("file_name", name),
				logging.Bool("source_consumed", result.SourceConsumed),
				logging.Error(err))
		}
		if result.SourceConsumed {
			consumed++
		}
	}
	return consumed, nil
}
