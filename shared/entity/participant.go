package entity

import (
	"time"

	"github.com/cohortmanager/platform/shared/types"
)

// Demographic is the latest demographic snapshot for a participant
type Demographic struct {
	IdentityKey         types.IdentityKey `json:"identity_key" db:"identity_key"`
	PrimaryCareProvider string            `json:"primary_care_provider,omitempty" db:"primary_care_provider"`
	NamePrefix          string            `json:"name_prefix,omitempty" db:"name_prefix"`
	GivenName           string            `json:"given_name,omitempty" db:"given_name"`
	OtherGivenNames     string            `json:"other_given_names,omitempty" db:"other_given_names"`
	FamilyName          string            `json:"family_name,omitempty" db:"family_name"`
	PreviousFamilyName  string            `json:"previous_family_name,omitempty" db:"previous_family_name"`
	DateOfBirth         *time.Time        `json:"date_of_birth,omitempty" db:"date_of_birth"`
	Gender              int               `json:"gender" db:"gender"`
	AddressLine1        string            `json:"address_line_1,omitempty" db:"address_line_1"`
	AddressLine2        string            `json:"address_line_2,omitempty" db:"address_line_2"`
	AddressLine3        string            `json:"address_line_3,omitempty" db:"address_line_3"`
	AddressLine4        string            `json:"address_line_4,omitempty" db:"address_line_4"`
	AddressLine5        string            `json:"address_line_5,omitempty" db:"address_line_5"`
	Postcode            string            `json:"postcode,omitempty" db:"postcode"`
	HomeTelephone       string            `json:"home_telephone,omitempty" db:"home_telephone"`
	MobileTelephone     string            `json:"mobile_telephone,omitempty" db:"mobile_telephone"`
	Email               string            `json:"email,omitempty" db:"email"`
	PreferredLanguage   string            `json:"preferred_language,omitempty" db:"preferred_language"`
	InterpreterRequired bool              `json:"interpreter_required" db:"interpreter_required"`
	DateOfDeath         *time.Time        `json:"date_of_death,omitempty" db:"date_of_death"`
	InvalidFlag         bool              `json:"invalid_flag" db:"invalid_flag"`
	RecordInsertedAt    time.Time         `json:"record_inserted_at" db:"record_inserted_at"`
	RecordUpdatedAt     time.Time         `json:"record_updated_at" db:"record_updated_at"`
}

// ParticipantManagement is the administrative state of a participant within
// one screening service
type ParticipantManagement struct {
	ParticipantID        int64               `db:"participant_id"`
	IdentityKey          types.IdentityKey   `db:"identity_key"`
	ScreeningID          string              `db:"screening_id"`
	RecordType           types.OperationKind `db:"record_type"`
	EligibilityFlag      bool                `db:"eligibility_flag"`
	ReasonForRemoval     string              `db:"reason_for_removal"`
	ReasonForRemovalFrom *time.Time          `db:"reason_for_removal_from"`
	BusinessRuleVersion  string              `db:"business_rule_version"`
	ExceptionFlag        types.ExceptionFlag `db:"exception_flag"`
	RecordInsertedAt     time.Time           `db:"record_inserted_at"`
	RecordUpdatedAt      time.Time           `db:"record_updated_at"`
}

// ParticipantView joins management state with demographics for distribution
type ParticipantView struct {
	Management  ParticipantManagement
	Demographic Demographic
}
