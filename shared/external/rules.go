package external

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

// RulesClient talks to the remote rules validation service
type RulesClient struct {
	client *Client
}

// NewRulesClient creates a rules service client
func NewRulesClient(client *Client) *RulesClient {
	return &RulesClient{client: client}
}

type validationRequest struct {
	Workflow       string                     `json:"workflow"`
	NewRecord      entity.CohortDistribution  `json:"new_record"`
	ExistingRecord *entity.CohortDistribution `json:"existing_record,omitempty"`
}

type validationResponse struct {
	Results []types.RuleResult `json:"results"`
}

// Validate evaluates the candidate against the previously distributed row.
// existing is nil for a participant that was never distributed. A 204 means
// the workflow has no rules; a 404 or an unknown outcome is an error so that
// an unvalidated row is never distributed.
func (r *RulesClient) Validate(ctx context.Context, candidate, existing *entity.CohortDistribution, workflow string) ([]types.RuleResult, error) {
	var resp validationResponse
	status, err := r.client.do(ctx, http.MethodPost, "/validate", validationRequest{
		Workflow:       workflow,
		NewRecord:      *candidate,
		ExistingRecord: existing,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, common.NewAppErrorWithDetails(common.ErrCodeNotFound,
			fmt.Sprintf("%s has no rule set", r.client.name), "workflow "+workflow)
	}

	for _, result := range resp.Results {
		if !result.Outcome.Valid() {
			return nil, common.NewAppErrorWithDetails(common.ErrCodeInvalidInput,
				fmt.Sprintf("%s returned an unknown outcome", r.client.name),
				fmt.Sprintf("rule %q outcome %q", result.RuleName, result.Outcome))
		}
	}
	return resp.Results, nil
}
