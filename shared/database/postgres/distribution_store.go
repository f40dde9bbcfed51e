package postgres

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

const distributionColumns = `cohort_distribution_id, participant_id, identity_key, screening_service_id,
	service_provider, record_type, superseded_by_key, primary_care_provider, name_prefix, given_name,
	other_given_names, family_name, previous_family_name, date_of_birth, gender, address_line_1,
	address_line_2, address_line_3, address_line_4, address_line_5, postcode, home_telephone,
	mobile_telephone, email, preferred_language, interpreter_required, reason_for_removal,
	reason_for_removal_from, date_of_death, is_extracted, request_id, record_inserted_at`

// DistributionStore appends to and reads from the distribution feed
type DistributionStore struct {
	client *Client
}

// NewDistributionStore creates a distribution store
func NewDistributionStore(client *Client) *DistributionStore {
	return &DistributionStore{client: client}
}

// Latest returns the most recently inserted row for the participant, or nil
// when nothing has been distributed yet
func (s *DistributionStore) Latest(ctx context.Context, key types.IdentityKey, screeningID string) (*entity.CohortDistribution, error) {
	var row entity.CohortDistribution
	query := `SELECT ` + distributionColumns + ` FROM cohort_distribution
		WHERE identity_key = $1 AND screening_service_id = $2
		ORDER BY cohort_distribution_id DESC LIMIT 1`
	err := s.client.Get(ctx, &row, "cohort_distribution", query, key, screeningID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Commit appends row and clears the participant's exception flag in one
// key-locked transaction. A transient flag is always cleared; a fatal flag
// only when clearFatal is set.
func (s *DistributionStore) Commit(ctx context.Context, row *entity.CohortDistribution, clearFatal bool) error {
	insert := `
		INSERT INTO cohort_distribution (
			participant_id, identity_key, screening_service_id, service_provider, record_type,
			superseded_by_key, primary_care_provider, name_prefix, given_name, other_given_names,
			family_name, previous_family_name, date_of_birth, gender, address_line_1, address_line_2,
			address_line_3, address_line_4, address_line_5, postcode, home_telephone, mobile_telephone,
			email, preferred_language, interpreter_required, reason_for_removal, reason_for_removal_from,
			date_of_death, is_extracted
		) VALUES (
			:participant_id, :identity_key, :screening_service_id, :service_provider, :record_type,
			:superseded_by_key, :primary_care_provider, :name_prefix, :given_name, :other_given_names,
			:family_name, :previous_family_name, :date_of_birth, :gender, :address_line_1, :address_line_2,
			:address_line_3, :address_line_4, :address_line_5, :postcode, :home_telephone, :mobile_telephone,
			:email, :preferred_language, :interpreter_required, :reason_for_removal, :reason_for_removal_from,
			:date_of_death, :is_extracted
		)
		RETURNING cohort_distribution_id, record_inserted_at`

	clearFlag := `
		UPDATE participant_management
		SET exception_flag = 0, record_updated_at = NOW()
		WHERE identity_key = $1 AND screening_id = $2
			AND (exception_flag = 2 OR ($3 AND exception_flag = 1))`

	lockKey := LockKey(row.IdentityKey, row.ScreeningServiceID)
	return s.client.WithKeyLock(ctx, "cohort_distribution", lockKey, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, insert)
		if err != nil {
			return err
		}
		defer stmt.Close()

		var created struct {
			ID         int64     `db:"cohort_distribution_id"`
			InsertedAt time.Time `db:"record_inserted_at"`
		}
		if err := stmt.GetContext(ctx, &created, row); err != nil {
			return err
		}
		row.CohortDistributionID = created.ID
		row.RecordInsertedAt = created.InsertedAt

		_, err = tx.ExecContext(ctx, clearFlag, row.IdentityKey, row.ScreeningServiceID, clearFatal)
		return err
	})
}

// CountSince counts rows inserted at or after from
func (s *DistributionStore) CountSince(ctx context.Context, from time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM cohort_distribution WHERE record_inserted_at >= $1`
	if err := s.client.Get(ctx, &count, "cohort_distribution", query, from); err != nil {
		return 0, err
	}
	return count, nil
}

// Extract hands up to limit pending rows of one screening service to a
// downstream consumer. The rows are stamped with a new request id and the
// request is audited even when nothing was pending.
func (s *DistributionStore) Extract(ctx context.Context, screeningID string, limit int) (string, []entity.CohortDistribution, error) {
	requestID := uuid.NewString()
	var rows []entity.CohortDistribution

	mark := `
		UPDATE cohort_distribution SET request_id = $1, is_extracted = TRUE
		WHERE cohort_distribution_id IN (
			SELECT cohort_distribution_id FROM cohort_distribution
			WHERE is_extracted = FALSE AND screening_service_id = $2
			ORDER BY cohort_distribution_id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + distributionColumns

	audit := `INSERT INTO cohort_request_audit (request_id, status_code, created_at) VALUES ($1, $2, NOW())`

	err := s.client.Transaction(ctx, "cohort_distribution", func(tx *sqlx.Tx) error {
		rows = rows[:0]
		if err := tx.SelectContext(ctx, &rows, mark, requestID, screeningID, limit); err != nil {
			return err
		}

		status := http.StatusOK
		if len(rows) == 0 {
			status = http.StatusNoContent
		}
		_, err := tx.ExecContext(ctx, audit, requestID, strconv.Itoa(status))
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return requestID, rows, nil
}

// RequestAudit returns the audit row of one extraction request, or nil
func (s *DistributionStore) RequestAudit(ctx context.Context, requestID string) (*entity.CohortRequestAudit, error) {
	var audit entity.CohortRequestAudit
	query := `SELECT request_id, status_code, created_at FROM cohort_request_audit WHERE request_id = $1`
	err := s.client.Get(ctx, &audit, "cohort_request_audit", query, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &audit, nil
}
