package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cohortmanager/platform/shared/types"
)

// ScreeningStore reads the screening service lookup table
type ScreeningStore struct {
	client *Client
}

// NewScreeningStore creates a screening lookup store
func NewScreeningStore(client *Client) *ScreeningStore {
	return &ScreeningStore{client: client}
}

// ByWorkflowCode returns the service registered for a workflow code, or nil
func (s *ScreeningStore) ByWorkflowCode(ctx context.Context, code string) (*types.ScreeningService, error) {
	var service types.ScreeningService
	query := `
		SELECT screening_id, screening_name, screening_acronym
		FROM screening_lookup WHERE workflow_code = $1`
	err := s.client.Get(ctx, &service, "screening_lookup", query, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &service, nil
}

// Register inserts or refreshes the service mapped to a workflow code
func (s *ScreeningStore) Register(ctx context.Context, code string, service types.ScreeningService) error {
	query := `
		INSERT INTO screening_lookup (screening_id, workflow_code, screening_name, screening_acronym)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (screening_id) DO UPDATE SET
			workflow_code = EXCLUDED.workflow_code,
			screening_name = EXCLUDED.screening_name,
			screening_acronym = EXCLUDED.screening_acronym`
	_, err := s.client.Exec(ctx, "screening_lookup", query, service.ID, code, service.Name, service.Acronym)
	return err
}
