package usecase

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cohortmanager/platform/services/intake/domain/service"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

// Column names after header normalisation
const (
	colRecordType              = "record_type"
	colIdentityKey             = "identity_key"
	colSupersededByKey         = "superseded_by_key"
	colPrimaryCareProvider     = "primary_care_provider"
	colPrimaryCareProviderFrom = "primary_care_provider_from"
	colCurrentPosting          = "current_posting"
	colCurrentPostingFrom      = "current_posting_from"
	colNamePrefix              = "name_prefix"
	colGivenName               = "given_name"
	colOtherGivenNames         = "other_given_names"
	colFamilyName              = "family_name"
	colPreviousFamilyName      = "previous_family_name"
	colDateOfBirth             = "date_of_birth"
	colGender                  = "gender"
	colAddressLine1            = "address_line_1"
	colAddressLine2            = "address_line_2"
	colAddressLine3            = "address_line_3"
	colAddressLine4            = "address_line_4"
	colAddressLine5            = "address_line_5"
	colPostcode                = "postcode"
	colHomeTelephone           = "home_telephone"
	colMobileTelephone         = "mobile_telephone"
	colEmail                   = "email"
	colPreferredLanguage       = "preferred_language"
	colInterpreterRequired     = "interpreter_required"
	colReasonForRemoval        = "reason_for_removal"
	colReasonForRemovalFrom    = "reason_for_removal_from"
	colDateOfDeath             = "date_of_death"
	colInvalidFlag             = "invalid_flag"
)

var dateLayouts = []string{"20060102", "2006-01-02", time.RFC3339}

// RowMapper turns raw rows into intake records
type RowMapper struct {
	CheckDigit bool
	Now        func() time.Time
}

// RowFailure is a rejected row. Key is set when the identity key parsed.
type RowFailure struct {
	Row   int
	Key   types.IdentityKey
	Cause error
}

func (f *RowFailure) Error() string {
	return fmt.Sprintf("row %d: %v", f.Row, f.Cause)
}

func (f *RowFailure) Unwrap() error {
	return f.Cause
}

// Map validates the required fields of raw. The record type is carried as
// read so that unknown kinds reach the record processor.
func (m RowMapper) Map(raw service.RawRow) (entity.IntakeRecord, error) {
	get := func(name string) string {
		return strings.TrimSpace(raw.Fields[name])
	}
	fail := func(key types.IdentityKey, format string, args ...interface{}) error {
		return &RowFailure{Row: raw.Number, Key: key, Cause: common.ErrShape(fmt.Sprintf(format, args...))}
	}

	key, err := types.ParseIdentityKey(get(colIdentityKey), m.CheckDigit)
	if err != nil {
		return entity.IntakeRecord{}, fail("", "%v", err)
	}

	kind := get(colRecordType)
	if kind == "" {
		return entity.IntakeRecord{}, fail(key, "record type is empty")
	}
	operation, _ := types.ParseOperationKind(kind)

	record := entity.IntakeRecord{
		RowNumber:           raw.Number,
		IdentityKey:         key,
		OperationKind:       operation,
		SupersededByKey:     get(colSupersededByKey),
		PrimaryCareProvider: get(colPrimaryCareProvider),
		CurrentPosting:      get(colCurrentPosting),
		NamePrefix:          get(colNamePrefix),
		GivenName:           get(colGivenName),
		OtherGivenNames:     get(colOtherGivenNames),
		FamilyName:          get(colFamilyName),
		PreviousFamilyName:  get(colPreviousFamilyName),
		AddressLine1:        get(colAddressLine1),
		AddressLine2:        get(colAddressLine2),
		AddressLine3:        get(colAddressLine3),
		AddressLine4:        get(colAddressLine4),
		AddressLine5:        get(colAddressLine5),
		Postcode:            get(colPostcode),
		HomeTelephone:       get(colHomeTelephone),
		MobileTelephone:     get(colMobileTelephone),
		Email:               get(colEmail),
		PreferredLanguage:   get(colPreferredLanguage),
		ReasonForRemoval:    get(colReasonForRemoval),
		Gender:              int(types.GenderNotSpecified),
	}

	if g := get(colGender); g != "" {
		if record.Gender, err = strconv.Atoi(g); err != nil {
			return entity.IntakeRecord{}, fail(key, "gender %q is not numeric", g)
		}
	}

	dates := []struct {
		column string
		target **time.Time
	}{
		{colDateOfBirth, &record.DateOfBirth},
		{colDateOfDeath, &record.DateOfDeath},
		{colPrimaryCareProviderFrom, &record.PrimaryCareProviderFrom},
		{colCurrentPostingFrom, &record.CurrentPostingFrom},
		{colReasonForRemovalFrom, &record.ReasonForRemovalFrom},
	}
	for _, d := range dates {
		value, err := parseDate(get(d.column))
		if err != nil {
			return entity.IntakeRecord{}, fail(key, "%s %q is not a date", d.column, get(d.column))
		}
		*d.target = value
	}

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	if record.DateOfBirth != nil && record.DateOfBirth.After(now()) {
		return entity.IntakeRecord{}, fail(key, "date of birth %s is in the future", record.DateOfBirth.Format("2006-01-02"))
	}

	if record.InterpreterRequired, err = parseFlag(get(colInterpreterRequired)); err != nil {
		return entity.IntakeRecord{}, fail(key, "interpreter required %q is not a flag", get(colInterpreterRequired))
	}
	if record.InvalidFlag, err = parseFlag(get(colInvalidFlag)); err != nil {
		return entity.IntakeRecord{}, fail(key, "invalid flag %q is not a flag", get(colInvalidFlag))
	}

	return record, nil
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised date %q", value)
}

func parseFlag(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "", "0", "n", "no", "false":
		return false, nil
	case "1", "y", "yes", "true":
		return true, nil
	}
	return false, fmt.Errorf("unrecognised flag %q", value)
}
