package entity

import (
	"time"

	"github.com/cohortmanager/platform/shared/types"
)

// ExceptionResolvedSentinel marks an exception that has not been resolved
var ExceptionResolvedSentinel = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// ExceptionRecord is one row of the exception store. Fatal rows are terminal
// outcomes for a record and count toward reconciliation; non-fatal rows are
// audit entries.
type ExceptionRecord struct {
	ExceptionID     int64                   `json:"exception_id" db:"exception_id"`
	IdentityKey     types.IdentityKey       `json:"identity_key" db:"identity_key"`
	FileName        string                  `json:"file_name" db:"file_name"`
	ScreeningName   string                  `json:"screening_name" db:"screening_name"`
	RuleID          int                     `json:"rule_id" db:"rule_id"`
	RuleDescription string                  `json:"rule_description" db:"rule_description"`
	RuleContent     string                  `json:"rule_content" db:"rule_content"`
	Category        types.ExceptionCategory `json:"category" db:"category"`
	Fatal           bool                    `json:"fatal" db:"fatal"`
	ErrorRecord     string                  `json:"error_record" db:"error_record"`
	ExceptionDate   time.Time               `json:"exception_date" db:"exception_date"`
	DateCreated     time.Time               `json:"date_created" db:"date_created"`
	DateResolved    time.Time               `json:"date_resolved" db:"date_resolved"`
}

// Resolved reports whether the exception has been closed
func (e ExceptionRecord) Resolved() bool {
	return e.DateResolved.Before(ExceptionResolvedSentinel)
}
