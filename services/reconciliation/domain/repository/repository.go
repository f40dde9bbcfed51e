package repository

import (
	"context"
	"time"

	"github.com/cohortmanager/platform/shared/entity"
)

// MetricReader lists inbound metrics received at or after a point in time
type MetricReader interface {
	ListSince(ctx context.Context, from time.Time) ([]entity.InboundMetric, error)
}

// ExceptionReader counts the distinct participants with a fatal exception
// created at or after a point in time
type ExceptionReader interface {
	CountFatalKeysSince(ctx context.Context, from time.Time) (int, error)
}

// DistributionCounter counts distribution rows inserted at or after a point
// in time
type DistributionCounter interface {
	CountSince(ctx context.Context, from time.Time) (int, error)
}

// RunStateStore remembers when a job last completed
type RunStateStore interface {
	LastRun(ctx context.Context, job string) (time.Time, bool, error)
	SetLastRun(ctx context.Context, job string, at time.Time) error
}
