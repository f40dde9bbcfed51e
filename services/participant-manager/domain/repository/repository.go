package repository

import (
	"context"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

// DemographicService keeps the latest demographic snapshot per participant.
// It is served by Postgres directly or by the remote demographic service.
type DemographicService interface {
	Upsert(ctx context.Context, key types.IdentityKey, fields entity.Demographic) (bool, error)
	Get(ctx context.Context, key types.IdentityKey) (*entity.Demographic, error)
}
