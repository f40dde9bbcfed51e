package exceptions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

// Rule ids for exceptions raised by the pipeline itself. Validation
// exceptions carry the id reported by the rules service instead.
const (
	RuleSystem            = 0
	RuleFileRejected      = 1
	RuleRowRejected       = 2
	RuleDuplicate         = 3
	RuleDeletedRecord     = 4
	RuleUnknownRecordType = 5
	RuleExistingException = 6
	RuleTransient         = 7
	RuleRetriesExhausted  = 8
	RuleParticipantAbsent = 9
)

const systemRuleContent = "System Exception"

// Store persists exception rows
type Store interface {
	Insert(ctx context.Context, record *entity.ExceptionRecord) error
}

// Exception describes one row to be written to the exception store
type Exception struct {
	IdentityKey   types.IdentityKey
	FileName      string
	ScreeningName string
	RuleID        int
	Description   string
	Content       string
	Category      types.ExceptionCategory
	Fatal         bool
	Payload       interface{}
}

// Handler writes exception rows and mirrors each one to the log
type Handler struct {
	store   Store
	logger  *logging.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewHandler creates an exception handler
func NewHandler(store Store, logger *logging.Logger, metrics *metrics.Collector) *Handler {
	return &Handler{
		store:   store,
		logger:  logger.WithComponent("exception-handler"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Raise writes one exception row
func (h *Handler) Raise(ctx context.Context, e Exception) error {
	now := h.now().UTC()
	record := &entity.ExceptionRecord{
		IdentityKey:     e.IdentityKey,
		FileName:        e.FileName,
		ScreeningName:   e.ScreeningName,
		RuleID:          e.RuleID,
		RuleDescription: e.Description,
		RuleContent:     e.Content,
		Category:        e.Category,
		Fatal:           e.Fatal,
		ErrorRecord:     encodePayload(e.Payload),
		ExceptionDate:   now,
		DateCreated:     now,
		DateResolved:    entity.ExceptionResolvedSentinel,
	}
	if record.RuleContent == "" {
		record.RuleContent = record.RuleDescription
	}

	logger := h.logger.WithContext(ctx).WithRecord(e.IdentityKey.String(), e.FileName).WithFields(
		logging.Int("rule_id", e.RuleID),
		logging.Int("category", int(e.Category)),
		logging.Bool("fatal", e.Fatal),
	)

	if err := h.store.Insert(ctx, record); err != nil {
		logger.Error("Failed to write exception", logging.String("description", e.Description), logging.Error(err))
		h.metrics.RecordError("exception_write", "exception-handler")
		return common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to write exception")
	}

	h.metrics.RecordException(int(e.Category), e.Fatal, fmt.Sprint(e.RuleID))
	if e.Fatal {
		logger.Warn(e.Description)
	} else {
		logger.Info(e.Description)
	}
	return nil
}

// FileException records a file-level failure. It carries the file name only,
// so it never counts toward any participant.
func (h *Handler) FileException(ctx context.Context, fileName string, cause error) error {
	return h.Raise(ctx, Exception{
		FileName:    fileName,
		RuleID:      RuleFileRejected,
		Description: fmt.Sprintf("file rejected: %v", cause),
		Content:     systemRuleContent,
		Category:    types.CategorySystem,
		Fatal:       true,
	})
}

// RowException records a row that could not be parsed. The identity key is
// set when it was readable even though another field was not.
func (h *Handler) RowException(ctx context.Context, key types.IdentityKey, fileName, screeningName string, rowNumber int, cause error) error {
	return h.Raise(ctx, Exception{
		IdentityKey:   key,
		FileName:      fileName,
		ScreeningName: screeningName,
		RuleID:        RuleRowRejected,
		Description:   fmt.Sprintf("row %d rejected: %v", rowNumber, cause),
		Content:       systemRuleContent,
		Category:      types.CategorySystem,
		Fatal:         true,
	})
}

// SystemException records an infrastructure failure for one record
func (h *Handler) SystemException(ctx context.Context, record entity.IntakeRecord, fileName, screeningName string, cause error, fatal bool) error {
	ruleID := RuleSystem
	if !fatal {
		ruleID = RuleTransient
	}
	return h.Raise(ctx, Exception{
		IdentityKey:   record.IdentityKey,
		FileName:      fileName,
		ScreeningName: screeningName,
		RuleID:        ruleID,
		Description:   cause.Error(),
		Content:       systemRuleContent,
		Category:      types.CategorySystem,
		Fatal:         fatal,
		Payload:       record,
	})
}

// RecordException records a terminal outcome decided by the pipeline, such
// as a duplicate or a removal
func (h *Handler) RecordException(ctx context.Context, record entity.IntakeRecord, fileName, screeningName string, ruleID int, description string) error {
	return h.Raise(ctx, Exception{
		IdentityKey:   record.IdentityKey,
		FileName:      fileName,
		ScreeningName: screeningName,
		RuleID:        ruleID,
		Description:   description,
		Category:      types.CategorySystem,
		Fatal:         true,
		Payload:       record,
	})
}

// Reject records a terminal decision carried by an application error. The
// rule id follows the error code and the description is the error message.
func (h *Handler) Reject(ctx context.Context, record entity.IntakeRecord, fileName, screeningName string, cause error) error {
	ruleID := RuleSystem
	description := cause.Error()
	if appErr := common.GetAppError(cause); appErr != nil {
		description = appErr.Message
		switch appErr.Code {
		case common.ErrCodeDuplicateRecord:
			ruleID = RuleDuplicate
		case common.ErrCodeRecordRemoved:
			ruleID = RuleDeletedRecord
		case common.ErrCodeUnknownRecordType:
			ruleID = RuleUnknownRecordType
		}
	}
	return h.RecordException(ctx, record, fileName, screeningName, ruleID, description)
}

// ExistingException records that a participant with an unresolved exception
// was offered for distribution. bypassed marks the audit entry written when
// the ignore switch lets the record through.
func (h *Handler) ExistingException(ctx context.Context, req entity.DistributionRequest, bypassed bool) error {
	description := "unable to add - existing exception"
	if bypassed {
		description = "existing exception ignored by configuration"
	}
	return h.Raise(ctx, Exception{
		IdentityKey:   req.IdentityKey,
		FileName:      req.FileName,
		ScreeningName: req.ScreeningService.Name,
		RuleID:        RuleExistingException,
		Description:   description,
		Category:      types.CategorySystem,
		Fatal:         !bypassed,
		Payload:       req.Record,
	})
}

// ValidationException records one failed rule
func (h *Handler) ValidationException(ctx context.Context, req entity.DistributionRequest, result types.RuleResult, fatal bool) error {
	ruleID, description := result.Split()
	return h.Raise(ctx, Exception{
		IdentityKey:   req.IdentityKey,
		FileName:      req.FileName,
		ScreeningName: req.ScreeningService.Name,
		RuleID:        ruleID,
		Description:   description,
		Content:       result.RuleName,
		Category:      types.CategoryValidation,
		Fatal:         fatal,
		Payload:       req.Record,
	})
}

func encodePayload(payload interface{}) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%+v", payload)
	}
	return string(data)
}
