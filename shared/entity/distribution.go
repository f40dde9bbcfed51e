package entity

import (
	"time"

	"github.com/cohortmanager/platform/shared/types"
)

// CohortDistribution is one append-only row of the distribution feed
type CohortDistribution struct {
	CohortDistributionID int64               `json:"cohort_distribution_id" db:"cohort_distribution_id"`
	ParticipantID        int64               `json:"participant_id" db:"participant_id"`
	IdentityKey          types.IdentityKey   `json:"identity_key" db:"identity_key"`
	ScreeningServiceID   string              `json:"screening_service_id" db:"screening_service_id"`
	ServiceProvider      string              `json:"service_provider" db:"service_provider"`
	RecordType           types.OperationKind `json:"record_type" db:"record_type"`
	SupersededByKey      string              `json:"superseded_by_key,omitempty" db:"superseded_by_key"`
	PrimaryCareProvider  string              `json:"primary_care_provider,omitempty" db:"primary_care_provider"`
	NamePrefix           string              `json:"name_prefix,omitempty" db:"name_prefix"`
	GivenName            string              `json:"given_name,omitempty" db:"given_name"`
	OtherGivenNames      string              `json:"other_given_names,omitempty" db:"other_given_names"`
	FamilyName           string              `json:"family_name,omitempty" db:"family_name"`
	PreviousFamilyName   string              `json:"previous_family_name,omitempty" db:"previous_family_name"`
	DateOfBirth          *time.Time          `json:"date_of_birth,omitempty" db:"date_of_birth"`
	Gender               types.Gender        `json:"gender" db:"gender"`
	AddressLine1         string              `json:"address_line_1,omitempty" db:"address_line_1"`
	AddressLine2         string              `json:"address_line_2,omitempty" db:"address_line_2"`
	AddressLine3         string              `json:"address_line_3,omitempty" db:"address_line_3"`
	AddressLine4         string              `json:"address_line_4,omitempty" db:"address_line_4"`
	AddressLine5         string              `json:"address_line_5,omitempty" db:"address_line_5"`
	Postcode             string              `json:"postcode,omitempty" db:"postcode"`
	HomeTelephone        string              `json:"home_telephone,omitempty" db:"home_telephone"`
	MobileTelephone      string              `json:"mobile_telephone,omitempty" db:"mobile_telephone"`
	Email                string              `json:"email,omitempty" db:"email"`
	PreferredLanguage    string              `json:"preferred_language,omitempty" db:"preferred_language"`
	InterpreterRequired  bool                `json:"interpreter_required" db:"interpreter_required"`
	ReasonForRemoval     string              `json:"reason_for_removal,omitempty" db:"reason_for_removal"`
	ReasonForRemovalFrom *time.Time          `json:"reason_for_removal_from,omitempty" db:"reason_for_removal_from"`
	DateOfDeath          *time.Time          `json:"date_of_death,omitempty" db:"date_of_death"`
	IsExtracted          bool                `json:"is_extracted" db:"is_extracted"`
	RequestID            *string             `json:"request_id,omitempty" db:"request_id"`
	RecordInsertedAt     time.Time           `json:"record_inserted_at" db:"record_inserted_at"`
}

// CohortRequestAudit records one downstream extraction request
type CohortRequestAudit struct {
	RequestID  string    `json:"request_id" db:"request_id"`
	StatusCode string    `json:"status_code" db:"status_code"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
