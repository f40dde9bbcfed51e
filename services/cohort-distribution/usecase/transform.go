package usecase

import (
	"strings"
	"unicode/utf8"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

// Field limits of the distribution feed
const (
	maxNameLength            = 35
	maxAddressLength         = 35
	maxOtherGivenNamesLength = 100
	maxContactLength         = 32
)

var namePrefixes = map[string]string{
	"MR":        "MR",
	"MRS":       "MRS",
	"MS":        "MS",
	"MISS":      "MISS",
	"MX":        "MX",
	"DR":        "DR",
	"DRS":       "DR",
	"DOCTOR":    "DR",
	"PROF":      "PROF",
	"PROFESSOR": "PROF",
	"REV":       "REV",
	"REVD":      "REV",
	"SIR":       "SIR",
	"DAME":      "DAME",
	"LADY":      "LADY",
	"LORD":      "LORD",
}

// Transform normalises a candidate row to the shape of the distribution
// feed. Applying it twice gives the same row.
func Transform(row entity.CohortDistribution) entity.CohortDistribution {
	row.NamePrefix = canonicalPrefix(row.NamePrefix)
	row.GivenName = truncate(row.GivenName, maxNameLength)
	row.OtherGivenNames = truncate(row.OtherGivenNames, maxOtherGivenNamesLength)
	row.FamilyName = truncate(row.FamilyName, maxNameLength)
	row.PreviousFamilyName = truncate(row.PreviousFamilyName, maxNameLength)

	row.AddressLine1 = truncate(row.AddressLine1, maxAddressLength)
	row.AddressLine2 = truncate(row.AddressLine2, maxAddressLength)
	row.AddressLine3 = truncate(row.AddressLine3, maxAddressLength)
	row.AddressLine4 = truncate(row.AddressLine4, maxAddressLength)
	row.AddressLine5 = truncate(row.AddressLine5, maxAddressLength)

	row.HomeTelephone = truncate(row.HomeTelephone, maxContactLength)
	row.MobileTelephone = truncate(row.MobileTelephone, maxContactLength)
	row.Email = truncate(row.Email, maxContactLength)

	row.Gender = types.NormalizeGender(int(row.Gender))
	return row
}

func canonicalPrefix(raw string) string {
	key := strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(raw, ".", "")))
	return namePrefixes[key]
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:limit]))
}

// candidateRow joins the participant view with the request into an
// untransformed distribution row
func candidateRow(pm *entity.ParticipantManagement, d *entity.Demographic, req entity.DistributionRequest, provider string) entity.CohortDistribution {
	return entity.CohortDistribution{
		ParticipantID:        pm.ParticipantID,
		IdentityKey:          req.IdentityKey,
		ScreeningServiceID:   req.ScreeningService.ID,
		ServiceProvider:      provider,
		RecordType:           req.OperationKind,
		SupersededByKey:      req.Record.SupersededByKey,
		PrimaryCareProvider:  d.PrimaryCareProvider,
		NamePrefix:           d.NamePrefix,
		GivenName:            d.GivenName,
		OtherGivenNames:      d.OtherGivenNames,
		FamilyName:           d.FamilyName,
		PreviousFamilyName:   d.PreviousFamilyName,
		DateOfBirth:          d.DateOfBirth,
		Gender:               types.Gender(d.Gender),
		AddressLine1:         d.AddressLine1,
		AddressLine2:         d.AddressLine2,
		AddressLine3:         d.AddressLine3,
		AddressLine4:         d.AddressLine4,
		AddressLine5:         d.AddressLine5,
		Postcode:             d.Postcode,
		HomeTelephone:        d.HomeTelephone,
		MobileTelephone:      d.MobileTelephone,
		Email:                d.Email,
		PreferredLanguage:    d.PreferredLanguage,
		InterpreterRequired:  d.InterpreterRequired,
		ReasonForRemoval:     pm.ReasonForRemoval,
		ReasonForRemovalFrom: pm.ReasonForRemovalFrom,
		DateOfDeath:          d.DateOfDeath,
	}
}
