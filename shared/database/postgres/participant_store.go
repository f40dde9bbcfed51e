package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

const managementColumns = `participant_id, identity_key, screening_id, record_type, eligibility_flag,
	reason_for_removal, reason_for_removal_from, business_rule_version, exception_flag,
	record_inserted_at, record_updated_at`

// ParticipantStore owns participant_management rows
type ParticipantStore struct {
	client *Client
}

// NewParticipantStore creates a participant store
func NewParticipantStore(client *Client) *ParticipantStore {
	return &ParticipantStore{client: client}
}

// LockKey is the advisory lock key shared by every write for one participant
// within one screening service
func LockKey(key types.IdentityKey, screeningID string) string {
	return screeningID + ":" + key.String()
}

// UpsertManagement writes the administrative state carried by an intake
// record. The exception flag and insert time of an existing row are kept, as
// is its business rule version when the record carries none.
func (s *ParticipantStore) UpsertManagement(ctx context.Context, pm *entity.ParticipantManagement) (*entity.ParticipantManagement, error) {
	query := `
		INSERT INTO participant_management (
			identity_key, screening_id, record_type, eligibility_flag, reason_for_removal,
			reason_for_removal_from, business_rule_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identity_key, screening_id) DO UPDATE SET
			record_type = EXCLUDED.record_type,
			eligibility_flag = EXCLUDED.eligibility_flag,
			reason_for_removal = EXCLUDED.reason_for_removal,
			reason_for_removal_from = EXCLUDED.reason_for_removal_from,
			business_rule_version = COALESCE(NULLIF(EXCLUDED.business_rule_version, ''), participant_management.business_rule_version),
			record_updated_at = NOW()
		RETURNING ` + managementColumns

	var stored entity.ParticipantManagement
	err := s.client.WithKeyLock(ctx, "participant_management", LockKey(pm.IdentityKey, pm.ScreeningID), func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &stored, query,
			pm.IdentityKey, pm.ScreeningID, pm.RecordType, pm.EligibilityFlag,
			pm.ReasonForRemoval, pm.ReasonForRemovalFrom, pm.BusinessRuleVersion)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Get returns the management row, or nil when the participant is unknown
func (s *ParticipantStore) Get(ctx context.Context, key types.IdentityKey, screeningID string) (*entity.ParticipantManagement, error) {
	var pm entity.ParticipantManagement
	query := `SELECT ` + managementColumns + ` FROM participant_management WHERE identity_key = $1 AND screening_id = $2`
	err := s.client.Get(ctx, &pm, "participant_management", query, key, screeningID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

// SetExceptionFlag records an exception against the participant. Setting the
// same flag twice is a no-op and a transient flag never downgrades a fatal one.
func (s *ParticipantStore) SetExceptionFlag(ctx context.Context, key types.IdentityKey, screeningID string, flag types.ExceptionFlag) error {
	query := `
		UPDATE participant_management
		SET exception_flag = $3, record_updated_at = NOW()
		WHERE identity_key = $1 AND screening_id = $2
			AND exception_flag <> $3
			AND NOT (exception_flag = 1 AND $3 = 2)`

	return s.client.WithKeyLock(ctx, "participant_management", LockKey(key, screeningID), func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query, key, screeningID, flag)
		return err
	})
}
