package repository

import (
	"context"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

// ScreeningRepository looks screening services up by workflow code
type ScreeningRepository interface {
	// ByWorkflowCode returns nil when the code is not registered
	ByWorkflowCode(ctx context.Context, workflowCode string) (*types.ScreeningService, error)
}

// ScreeningCache fronts ScreeningRepository
type ScreeningCache interface {
	Get(ctx context.Context, workflowCode string) (types.ScreeningService, bool, error)
	Set(ctx context.Context, workflowCode string, service types.ScreeningService) error
}

// MetricRepository persists inbound file metrics
type MetricRepository interface {
	Insert(ctx context.Context, metric *entity.InboundMetric) error
}
