package usecase

import (
	"context"
	"strings"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/services/intake/domain/repository"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/types"
)

// ScreeningServiceResolver maps workflow codes to screening services. The
// cache is optional and never authoritative.
type ScreeningServiceResolver struct {
	repo   repository.ScreeningRepository
	cache  repository.ScreeningCache
	logger *logging.Logger
}

// NewScreeningServiceResolver creates a resolver. cache may be nil.
func NewScreeningServiceResolver(repo repository.ScreeningRepository, cache repository.ScreeningCache, logger *logging.Logger) *ScreeningServiceResolver {
	return &ScreeningServiceResolver{
		repo:   repo,
		cache:  cache,
		logger: logger.WithComponent("screening-resolver"),
	}
}

// Resolve returns the screening service registered for workflowCode
func (r *ScreeningServiceResolver) Resolve(ctx context.Context, workflowCode string) (types.ScreeningService, error) {
	code := strings.TrimSpace(workflowCode)
	if code == "" {
		return types.ScreeningService{}, common.ErrShape("workflow code is empty")
	}

	if r.cache != nil {
		svc, ok, err := r.cache.Get(ctx, code)
		if err != nil {
			r.logger.Warn("Screening cache lookup failed", logging.String("workflow_code", code), logging.Error(err))
		}
		if ok && svc.Valid() {
			return svc, nil
		}
	}

	svc, err := r.repo.ByWorkflowCode(ctx, code)
	if err != nil {
		return types.ScreeningService{}, err
	}
	if svc == nil {
		return types.ScreeningService{}, common.ErrNotFound("screening service for workflow " + code)
	}
	if !svc.Valid() {
		return types.ScreeningService{}, common.ErrShape("screening service for workflow " + code + " has no name")
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, code, *svc); err != nil {
			r.logger.Warn("Screening cache write failed", logging.String("workflow_code", code), logging.Error(err))
		}
	}
	return *svc, nil
}
