package postgres

import (
	"context"
	"time"

	"github.com/cohortmanager/platform/shared/entity"
)

// Several exceptions against one participant count once and rows without an
// identity key, such as file rejections, do not count.
const countFatalKeysQuery = `SELECT COUNT(DISTINCT identity_key) FROM exception_management
	WHERE fatal AND identity_key <> '' AND date_created >= $1`

// ExceptionStore persists exception rows
type ExceptionStore struct {
	client *Client
}

// NewExceptionStore creates an exception store
func NewExceptionStore(client *Client) *ExceptionStore {
	return &ExceptionStore{client: client}
}

// Insert writes one exception row and sets its generated id
func (s *ExceptionStore) Insert(ctx context.Context, record *entity.ExceptionRecord) error {
	query := `
		INSERT INTO exception_management (
			identity_key, file_name, screening_name, rule_id, rule_description, rule_content,
			category, fatal, error_record, exception_date, date_created, date_resolved
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING exception_id`

	return s.client.Get(ctx, &record.ExceptionID, "exception_management", query,
		record.IdentityKey, record.FileName, record.ScreeningName, record.RuleID,
		record.RuleDescription, record.RuleContent, record.Category, record.Fatal,
		record.ErrorRecord, record.ExceptionDate, record.DateCreated, record.DateResolved)
}

// CountFatalKeysSince counts the participants with a fatal exception created
// at or after from
func (s *ExceptionStore) CountFatalKeysSince(ctx context.Context, from time.Time) (int, error) {
	var count int
	if err := s.client.Get(ctx, &count, "exception_management", countFatalKeysQuery, from); err != nil {
		return 0, err
	}
	return count, nil
}
