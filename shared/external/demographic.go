package external

import (
	"context"
	"net/http"
	"net/url"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

// DemographicClient talks to the remote demographic correlation service
type DemographicClient struct {
	client *Client
}

// NewDemographicClient creates a demographic service client
func NewDemographicClient(client *Client) *DemographicClient {
	return &DemographicClient{client: client}
}

// Upsert stores the latest demographic fields for key
func (d *DemographicClient) Upsert(ctx context.Context, key types.IdentityKey, fields entity.Demographic) (bool, error) {
	fields.IdentityKey = key
	if _, err := d.client.do(ctx, http.MethodPut, "/demographics/"+url.PathEscape(key.String()), fields, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the snapshot for key, or nil when the service does not know it
func (d *DemographicClient) Get(ctx context.Context, key types.IdentityKey) (*entity.Demographic, error) {
	var demographic entity.Demographic
	status, err := d.client.do(ctx, http.MethodGet, "/demographics/"+url.PathEscape(key.String()), nil, &demographic)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || status == http.StatusNoContent {
		return nil, nil
	}
	return &demographic, nil
}
