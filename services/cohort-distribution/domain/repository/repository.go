package repository

import (
	"context"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

// ParticipantRepository owns participant management state
type ParticipantRepository interface {
	UpsertManagement(ctx context.Context, pm *entity.ParticipantManagement) (*entity.ParticipantManagement, error)
	SetExceptionFlag(ctx context.Context, key types.IdentityKey, screeningID string, flag types.ExceptionFlag) error
}

// DemographicReader returns the latest demographic snapshot, nil when unknown
type DemographicReader interface {
	Get(ctx context.Context, key types.IdentityKey) (*entity.Demographic, error)
}

// DistributionRepository is the append-only distribution feed
type DistributionRepository interface {
	Latest(ctx context.Context, key types.IdentityKey, screeningID string) (*entity.CohortDistribution, error)
	Commit(ctx context.Context, row *entity.CohortDistribution, clearFatal bool) error
}

// ExtractRepository hands pending rows to downstream consumers
type ExtractRepository interface {
	Extract(ctx context.Context, screeningID string, limit int) (string, []entity.CohortDistribution, error)
	RequestAudit(ctx context.Context, requestID string) (*entity.CohortRequestAudit, error)
}
