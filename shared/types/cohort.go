package types

import (
	"fmt"
	"strconv"
	"strings"
)

// IdentityKey is the participant's ten digit numeric identifier
type IdentityKey string

// String returns the raw key
func (k IdentityKey) String() string {
	return string(k)
}

// IsZero reports whether the key is empty
func (k IdentityKey) IsZero() bool {
	return k == ""
}

const identityKeyLength = 10

// ParseIdentityKey validates a raw identifier. Whitespace inside the value is
// tolerated because extracts sometimes group digits as "943 476 5919".
// When checkDigit is set the modulus 11 check digit must also hold.
func ParseIdentityKey(raw string, checkDigit bool) (IdentityKey, error) {
	key := strings.Join(strings.Fields(raw), "")
	if len(key) != identityKeyLength {
		return "", fmt.Errorf("identity key must be %d digits, got %q", identityKeyLength, raw)
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("identity key must be numeric, got %q", raw)
		}
	}
	if checkDigit && !validCheckDigit(key) {
		return "", fmt.Errorf("identity key %q fails check digit", raw)
	}
	return IdentityKey(key), nil
}

func validCheckDigit(key string) bool {
	sum := 0
	for i := 0; i < identityKeyLength-1; i++ {
		sum += int(key[i]-'0') * (identityKeyLength - i)
	}
	check := 11 - sum%11
	switch check {
	case 11:
		check = 0
	case 10:
		return false
	}
	return check == int(key[identityKeyLength-1]-'0')
}

// OperationKind is the record type carried by every intake row
type OperationKind string

const (
	OperationNew     OperationKind = "ADD"
	OperationAmended OperationKind = "AMENDED"
	OperationRemoved OperationKind = "DEL"
)

// ParseOperationKind maps the raw record type column. Unknown values are
// returned unchanged with ok=false so the caller can report them.
func ParseOperationKind(raw string) (OperationKind, bool) {
	kind := OperationKind(strings.ToUpper(strings.TrimSpace(raw)))
	switch kind {
	case OperationNew, OperationAmended, OperationRemoved:
		return kind, true
	}
	return kind, false
}

// Gender follows the 0/1/2/9 coding used by the distribution feed
type Gender int

const (
	GenderNotKnown     Gender = 0
	GenderMale         Gender = 1
	GenderFemale       Gender = 2
	GenderNotSpecified Gender = 9
)

// NormalizeGender maps any code outside the feed's value set to not-specified
func NormalizeGender(code int) Gender {
	switch g := Gender(code); g {
	case GenderNotKnown, GenderMale, GenderFemale, GenderNotSpecified:
		return g
	}
	return GenderNotSpecified
}

// ExceptionFlag is the tri-state marker on participant management rows
type ExceptionFlag int

const (
	ExceptionFlagNone      ExceptionFlag = 0
	ExceptionFlagFatal     ExceptionFlag = 1
	ExceptionFlagTransient ExceptionFlag = 2
)

// Blocks reports whether the flag stops distribution for the participant
func (f ExceptionFlag) Blocks() bool {
	return f == ExceptionFlagFatal
}

// RuleOutcome is the result of one rule evaluated by the validation service
type RuleOutcome string

const (
	RulePass         RuleOutcome = "pass"
	RuleFailNonFatal RuleOutcome = "failNonFatal"
	RuleFailFatal    RuleOutcome = "failFatal"
)

// Valid reports whether o is one of the known outcomes
func (o RuleOutcome) Valid() bool {
	switch o {
	case RulePass, RuleFailNonFatal, RuleFailFatal:
		return true
	}
	return false
}

// ExceptionCategory classifies exception store rows
type ExceptionCategory int

const (
	CategoryValidation ExceptionCategory = 1
	CategorySystem     ExceptionCategory = 99
)

// ScreeningService identifies the programme a file belongs to
type ScreeningService struct {
	ID      string `json:"id" db:"screening_id" msgpack:"id"`
	Name    string `json:"name" db:"screening_name" msgpack:"name"`
	Acronym string `json:"acronym" db:"screening_acronym" msgpack:"acronym"`
}

// Valid reports whether the service carries an id and display name
func (s ScreeningService) Valid() bool {
	return strings.TrimSpace(s.ID) != "" && strings.TrimSpace(s.Name) != ""
}

// RuleResult is one outcome reported by the rules service. Rule names take the
// form "<id>.<description>".
type RuleResult struct {
	RuleName string      `json:"rule_name"`
	Outcome  RuleOutcome `json:"outcome"`
}

// Failed reports whether the rule did not pass
func (r RuleResult) Failed() bool {
	return r.Outcome == RuleFailNonFatal || r.Outcome == RuleFailFatal
}

// Fatal reports whether the rule blocks distribution
func (r RuleResult) Fatal() bool {
	return r.Outcome == RuleFailFatal
}

// Split separates the numeric rule id from its description. Names without a
// numeric prefix yield id 0 and the whole name as description.
func (r RuleResult) Split() (int, string) {
	prefix, description, found := strings.Cut(r.RuleName, ".")
	if !found {
		return 0, r.RuleName
	}
	id, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, r.RuleName
	}
	return id, description
}
