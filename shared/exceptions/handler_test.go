package exceptions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

type recordingStore struct {
	records []*entity.ExceptionRecord
	err     error
}

func (s *recordingStore) Insert(_ context.Context, record *entity.ExceptionRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func newHandler(t *testing.T, store Store) *Handler {
	return NewHandler(store, logging.FromZap(zaptest.NewLogger(t), "test"), metrics.NewCollector("cohort_test"))
}

func TestFileExceptionCarriesFileNameOnly(t *testing.T) {
	store := &recordingStore{}
	h := newHandler(t, store)

	err := h.FileException(context.Background(), "bad.csv", errors.New("name does not match"))
	require.NoError(t, err)

	require.Len(t, store.records, 1)
	record := store.records[0]
	assert.True(t, record.IdentityKey.IsZero())
	assert.Equal(t, "bad.csv", record.FileName)
	assert.Equal(t, types.CategorySystem, record.Category)
	assert.True(t, record.Fatal)
	assert.Equal(t, entity.ExceptionResolvedSentinel, record.DateResolved)
	assert.False(t, record.Resolved())
}

func TestValidationExceptionSplitsRuleName(t *testing.T) {
	store := &recordingStore{}
	h := newHandler(t, store)

	req := entity.DistributionRequest{
		IdentityKey:      "9434765919",
		FileName:         "a.csv",
		ScreeningService: types.ScreeningService{ID: "1", Name: "Breast Screening", Acronym: "BSS"},
	}
	err := h.ValidationException(context.Background(), req,
		types.RuleResult{RuleName: "36.ValidatePostcode", Outcome: types.RuleFailFatal}, true)
	require.NoError(t, err)

	record := store.records[0]
	assert.Equal(t, 36, record.RuleID)
	assert.Equal(t, "ValidatePostcode", record.RuleDescription)
	assert.Equal(t, "36.ValidatePostcode", record.RuleContent)
	assert.Equal(t, types.CategoryValidation, record.Category)
	assert.Equal(t, "Breast Screening", record.ScreeningName)
	assert.Contains(t, record.ErrorRecord, "identity_key")
}

func TestExistingExceptionBypassIsNotFatal(t *testing.T) {
	store := &recordingStore{}
	h := newHandler(t, store)
	req := entity.DistributionRequest{IdentityKey: "9434765919"}

	require.NoError(t, h.ExistingException(context.Background(), req, false))
	require.NoError(t, h.ExistingException(context.Background(), req, true))

	assert.True(t, store.records[0].Fatal)
	assert.Equal(t, "unable to add - existing exception", store.records[0].RuleDescription)
	assert.False(t, store.records[1].Fatal)
}

func TestRaiseWrapsStoreFailure(t *testing.T) {
	h := newHandler(t, &recordingStore{err: errors.New("connection reset")})

	err := h.SystemException(context.Background(), entity.IntakeRecord{IdentityKey: "9434765919"}, "a.csv", "BSS",
		errors.New("allocation timed out"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write exception")
}

func TestRejectMapsErrorCodeToRule(t *testing.T) {
	tests := []struct {
		name        string
		cause       error
		ruleID      int
		description string
	}{
		{"duplicate", common.ErrDuplicateRecord("9434765919"), RuleDuplicate, "duplicate within batch"},
		{"removed", common.ErrRecordRemoved("9434765919"), RuleDeletedRecord, "deleted record"},
		{"unknown kind", common.ErrUnknownRecordType("MERGE"), RuleUnknownRecordType, "cannot parse record type"},
		{"plain error", errors.New("boom"), RuleSystem, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &recordingStore{}
			h := newHandler(t, store)
			record := entity.IntakeRecord{IdentityKey: "9434765919"}

			require.NoError(t, h.Reject(context.Background(), record, "a.csv", "Breast Screening", tt.cause))

			require.Len(t, store.records, 1)
			assert.Equal(t, tt.ruleID, store.records[0].RuleID)
			assert.Equal(t, tt.description, store.records[0].RuleDescription)
			assert.True(t, store.records[0].Fatal)
		})
	}
}
