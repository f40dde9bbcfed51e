package service

import (
	"context"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

// Allocator picks the service provider responsible for a participant
type Allocator interface {
	Allocate(ctx context.Context, key types.IdentityKey, acronym, postcode string) (string, error)
}

// Validator evaluates the business rules for a candidate row against the
// participant's latest distributed row
type Validator interface {
	Validate(ctx context.Context, candidate, existing *entity.CohortDistribution, workflow string) ([]types.RuleResult, error)
}

// KeyLocker serializes work on one participant. The returned function
// releases the lock.
type KeyLocker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Queue moves distribution requests between topics
type Queue interface {
	Enqueue(ctx context.Context, req entity.DistributionRequest, topic string) error
}
