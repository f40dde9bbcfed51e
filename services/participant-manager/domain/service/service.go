package service

import (
	"context"

	"github.com/cohortmanager/platform/shared/entity"
)

// Forwarder hands an admitted record to the distribution orchestrator
type Forwarder interface {
	Forward(ctx context.Context, req entity.DistributionRequest) error
}
