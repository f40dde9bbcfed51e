package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

const demographicColumns = `identity_key, primary_care_provider, name_prefix, given_name, other_given_names,
	family_name, previous_family_name, date_of_birth, gender, address_line_1, address_line_2,
	address_line_3, address_line_4, address_line_5, postcode, home_telephone, mobile_telephone,
	email, preferred_language, interpreter_required, date_of_death, invalid_flag,
	record_inserted_at, record_updated_at`

// DemographicStore keeps the latest demographic snapshot per participant. It
// serves as the demographic service when no remote one is configured.
type DemographicStore struct {
	client *Client
}

// NewDemographicStore creates a demographic store
func NewDemographicStore(client *Client) *DemographicStore {
	return &DemographicStore{client: client}
}

// Upsert replaces the snapshot for key, keeping the original insert time
func (s *DemographicStore) Upsert(ctx context.Context, key types.IdentityKey, d entity.Demographic) (bool, error) {
	d.IdentityKey = key
	query := `
		INSERT INTO participant_demographic (
			identity_key, primary_care_provider, name_prefix, given_name, other_given_names,
			family_name, previous_family_name, date_of_birth, gender, address_line_1, address_line_2,
			address_line_3, address_line_4, address_line_5, postcode, home_telephone, mobile_telephone,
			email, preferred_language, interpreter_required, date_of_death, invalid_flag
		) VALUES (
			:identity_key, :primary_care_provider, :name_prefix, :given_name, :other_given_names,
			:family_name, :previous_family_name, :date_of_birth, :gender, :address_line_1, :address_line_2,
			:address_line_3, :address_line_4, :address_line_5, :postcode, :home_telephone, :mobile_telephone,
			:email, :preferred_language, :interpreter_required, :date_of_death, :invalid_flag
		)
		ON CONFLICT (identity_key) DO UPDATE SET
			primary_care_provider = EXCLUDED.primary_care_provider,
			name_prefix = EXCLUDED.name_prefix,
			given_name = EXCLUDED.given_name,
			other_given_names = EXCLUDED.other_given_names,
			family_name = EXCLUDED.family_name,
			previous_family_name = EXCLUDED.previous_family_name,
			date_of_birth = EXCLUDED.date_of_birth,
			gender = EXCLUDED.gender,
			address_line_1 = EXCLUDED.address_line_1,
			address_line_2 = EXCLUDED.address_line_2,
			address_line_3 = EXCLUDED.address_line_3,
			address_line_4 = EXCLUDED.address_line_4,
			address_line_5 = EXCLUDED.address_line_5,
			postcode = EXCLUDED.postcode,
			home_telephone = EXCLUDED.home_telephone,
			mobile_telephone = EXCLUDED.mobile_telephone,
			email = EXCLUDED.email,
			preferred_language = EXCLUDED.preferred_language,
			interpreter_required = EXCLUDED.interpreter_required,
			date_of_death = EXCLUDED.date_of_death,
			invalid_flag = EXCLUDED.invalid_flag,
			record_updated_at = NOW()`

	if err := s.client.NamedExec(ctx, "participant_demographic", query, d); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the snapshot for key, or nil when none exists
func (s *DemographicStore) Get(ctx context.Context, key types.IdentityKey) (*entity.Demographic, error) {
	var d entity.Demographic
	query := `SELECT ` + demographicColumns + ` FROM participant_demographic WHERE identity_key = $1`
	err := s.client.Get(ctx, &d, "participant_demographic", query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
