package entity

import (
	"time"

	"github.com/cohortmanager/platform/shared/types"
)

// IntakeRecord is one parsed row of a bulk extract. It is immutable once
// built and consumed by exactly one RecordProcessor call.
type IntakeRecord struct {
	RowNumber     int                 `json:"row_number"`
	IdentityKey   types.IdentityKey   `json:"identity_key"`
	OperationKind types.OperationKind `json:"operation_kind"`

	SupersededByKey string `json:"superseded_by_key,omitempty"`

	PrimaryCareProvider     string     `json:"primary_care_provider,omitempty"`
	PrimaryCareProviderFrom *time.Time `json:"primary_care_provider_from,omitempty"`
	CurrentPosting          string     `json:"current_posting,omitempty"`
	CurrentPostingFrom      *time.Time `json:"current_posting_from,omitempty"`

	NamePrefix         string     `json:"name_prefix,omitempty"`
	GivenName          string     `json:"given_name,omitempty"`
	OtherGivenNames    string     `json:"other_given_names,omitempty"`
	FamilyName         string     `json:"family_name,omitempty"`
	PreviousFamilyName string     `json:"previous_family_name,omitempty"`
	DateOfBirth        *time.Time `json:"date_of_birth,omitempty"`
	Gender             int        `json:"gender"`

	AddressLine1 string `json:"address_line_1,omitempty"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	AddressLine3 string `json:"address_line_3,omitempty"`
	AddressLine4 string `json:"address_line_4,omitempty"`
	AddressLine5 string `json:"address_line_5,omitempty"`
	Postcode     string `json:"postcode,omitempty"`

	HomeTelephone       string `json:"home_telephone,omitempty"`
	MobileTelephone     string `json:"mobile_telephone,omitempty"`
	Email               string `json:"email,omitempty"`
	PreferredLanguage   string `json:"preferred_language,omitempty"`
	InterpreterRequired bool   `json:"interpreter_required"`

	ReasonForRemoval     string     `json:"reason_for_removal,omitempty"`
	ReasonForRemovalFrom *time.Time `json:"reason_for_removal_from,omitempty"`
	DateOfDeath          *time.Time `json:"date_of_death,omitempty"`
	InvalidFlag          bool       `json:"invalid_flag"`
}

// Demographic projects the row onto the fields the correlation service keeps
func (r IntakeRecord) Demographic() Demographic {
	return Demographic{
		IdentityKey:         r.IdentityKey,
		PrimaryCareProvider: r.PrimaryCareProvider,
		NamePrefix:          r.NamePrefix,
		GivenName:           r.GivenName,
		OtherGivenNames:     r.OtherGivenNames,
		FamilyName:          r.FamilyName,
		PreviousFamilyName:  r.PreviousFamilyName,
		DateOfBirth:         r.DateOfBirth,
		Gender:              r.Gender,
		AddressLine1:        r.AddressLine1,
		AddressLine2:        r.AddressLine2,
		AddressLine3:        r.AddressLine3,
		AddressLine4:        r.AddressLine4,
		AddressLine5:        r.AddressLine5,
		Postcode:            r.Postcode,
		HomeTelephone:       r.HomeTelephone,
		MobileTelephone:     r.MobileTelephone,
		Email:               r.Email,
		PreferredLanguage:   r.PreferredLanguage,
		InterpreterRequired: r.InterpreterRequired,
		DateOfDeath:         r.DateOfDeath,
		InvalidFlag:         r.InvalidFlag,
	}
}
