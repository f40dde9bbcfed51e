package external

import (
	"context"
	"net/http"

	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/types"
)

// AllocationClient talks to the remote provider allocation service
type AllocationClient struct {
	client *Client
}

// NewAllocationClient creates an allocation service client
func NewAllocationClient(client *Client) *AllocationClient {
	return &AllocationClient{client: client}
}

type allocationRequest struct {
	IdentityKey      types.IdentityKey `json:"identity_key"`
	ScreeningAcronym string            `json:"screening_acronym"`
	Postcode         string            `json:"postcode"`
}

type allocationResponse struct {
	ServiceProvider string `json:"service_provider"`
}

// Allocate returns the provider code responsible for the participant
func (a *AllocationClient) Allocate(ctx context.Context, key types.IdentityKey, acronym, postcode string) (string, error) {
	var resp allocationResponse
	status, err := a.client.do(ctx, http.MethodPost, "/allocations", allocationRequest{
		IdentityKey:      key,
		ScreeningAcronym: acronym,
		Postcode:         postcode,
	}, &resp)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound || resp.ServiceProvider == "" {
		return "", common.ErrExternalService(a.client.name, common.ErrNotFound("service provider"))
	}
	return resp.ServiceProvider, nil
}
