package rules

import (
	"context"
	"sync"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

// PassAll is the validator used when distribution.allow_unvalidated is set
// and no rules service is configured. Every candidate passes.
type PassAll struct {
	logger *logging.Logger
	once   sync.Once
}

// NewPassAll creates a validator that approves everything
func NewPassAll(logger *logging.Logger) *PassAll {
	return &PassAll{logger: logger.WithComponent("rules")}
}

// Validate reports no results
func (p *PassAll) Validate(_ context.Context, _, _ *entity.CohortDistribution, workflow string) ([]types.RuleResult, error) {
	p.once.Do(func() {
		p.logger.Warn("No rules service configured; distribution rows are not validated",
			logging.String("workflow", workflow))
	})
	return nil, nil
}
