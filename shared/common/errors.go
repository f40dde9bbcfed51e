package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorCode represents different types of application errors
type ErrorCode string

const (
	// General errors
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists      ErrorCode = "ALREADY_EXISTS"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Validation errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidFormat    ErrorCode = "INVALID_FORMAT"
	ErrCodeMissingRequired  ErrorCode = "MISSING_REQUIRED"
	ErrCodeOutOfRange       ErrorCode = "OUT_OF_RANGE"

	// Database errors
	ErrCodeDatabaseConnection  ErrorCode = "DATABASE_CONNECTION"
	ErrCodeDatabaseQuery       ErrorCode = "DATABASE_QUERY"
	ErrCodeDatabaseConstraint  ErrorCode = "DATABASE_CONSTRAINT"
	ErrCodeDatabaseTransaction ErrorCode = "DATABASE_TRANSACTION"

	// External service errors
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE"
	ErrCodeNetworkError    ErrorCode = "NETWORK_ERROR"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"

	// Business logic errors
	ErrCodeBusinessRuleViolation ErrorCode = "BUSINESS_RULE_VIOLATION"
	ErrCodeInvalidState          ErrorCode = "INVALID_STATE"

	// Cohort pipeline errors
	ErrCodeShape                  ErrorCode = "SHAPE_ERROR"
	ErrCodeDuplicateRecord        ErrorCode = "DUPLICATE_RECORD"
	ErrCodeRecordRemoved          ErrorCode = "RECORD_REMOVED"
	ErrCodeUnknownRecordType      ErrorCode = "UNKNOWN_RECORD_TYPE"
	ErrCodeRuleFailed             ErrorCode = "RULE_FAILED"
	ErrCodeTransientService       ErrorCode = "TRANSIENT_SERVICE_ERROR"
	ErrCodeReconciliationMismatch ErrorCode = "RECONCILIATION_MISMATCH"
)

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StatusCode int                    `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Stack      string                 `json:"-"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: getHTTPStatusCode(code),
		Stack:      getStackTrace(),
	}
}

// NewAppErrorWithDetails creates a new application error with details
func NewAppErrorWithDetails(code ErrorCode, message, details string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: getHTTPStatusCode(code),
		Stack:      getStackTrace(),
	}
}

// NewAppErrorWithCause creates a new application error with an underlying cause
func NewAppErrorWithCause(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Cause:      cause,
		StatusCode: getHTTPStatusCode(code),
		Stack:      getStackTrace(),
	}
}

// WrapError wraps an existing error with application error context.
// An AppError anywhere in the chain is returned as is.
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	return &AppError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StatusCode: getHTTPStatusCode(code),
		Stack:      getStackTrace(),
	}
}

func getHTTPStatusCode(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyExists, ErrCodeDuplicateRecord:
		return http.StatusConflict
	case ErrCodeInvalidInput, ErrCodeValidationFailed, ErrCodeInvalidFormat,
		ErrCodeMissingRequired, ErrCodeOutOfRange, ErrCodeShape:
		return http.StatusBadRequest
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeServiceUnavailable, ErrCodeDatabaseConnection, ErrCodeExternalService,
		ErrCodeTransientService:
		return http.StatusServiceUnavailable
	case ErrCodeBusinessRuleViolation, ErrCodeInvalidState, ErrCodeRuleFailed,
		ErrCodeRecordRemoved, ErrCodeUnknownRecordType:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func getStackTrace() string {
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasErrorCode checks if the error has a specific error code
func HasErrorCode(err error, code ErrorCode) bool {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code == code
	}
	return false
}

// IsTransient reports whether err should be resubmitted through the retry
// queue rather than recorded as a terminal exception.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	appErr := GetAppError(err)
	if appErr == nil {
		return false
	}
	switch appErr.Code {
	case ErrCodeTransientService, ErrCodeExternalService, ErrCodeServiceUnavailable,
		ErrCodeTimeout, ErrCodeRateLimited, ErrCodeNetworkError,
		ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseTransaction:
		return true
	}
	return false
}

// IsTerminal reports whether err must be recorded as a terminal exception
func IsTerminal(err error) bool {
	return err != nil && !IsTransient(err)
}

// ErrNotFound creates a not found error
func ErrNotFound(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

// ErrValidationFailed creates a validation failed error
func ErrValidationFailed(details string) *AppError {
	return NewAppErrorWithDetails(ErrCodeValidationFailed, "validation failed", details)
}

// ErrDatabaseConnection creates a database connection error
func ErrDatabaseConnection(cause error) *AppError {
	return NewAppErrorWithCause(ErrCodeDatabaseConnection, "database connection failed", cause)
}

// ErrExternalService creates an external service error
func ErrExternalService(service string, cause error) *AppError {
	return NewAppErrorWithCause(ErrCodeExternalService,
		fmt.Sprintf("external service error: %s", service), cause)
}

// ErrTimeout creates a timeout error
func ErrTimeout(operation string) *AppError {
	return NewAppError(ErrCodeTimeout, fmt.Sprintf("operation timeout: %s", operation))
}

// ErrShape reports an unparseable file name or row
func ErrShape(details string) *AppError {
	return NewAppErrorWithDetails(ErrCodeShape, "malformed input", details)
}

// ErrDuplicateRecord reports a repeated identity key within one batch
func ErrDuplicateRecord(identityKey string) *AppError {
	return NewAppError(ErrCodeDuplicateRecord, "duplicate within batch").
		WithContext("identity_key", identityKey)
}

// ErrRecordRemoved reports a removal that the pipeline will not distribute
func ErrRecordRemoved(identityKey string) *AppError {
	return NewAppError(ErrCodeRecordRemoved, "deleted record").
		WithContext("identity_key", identityKey)
}

// ErrUnknownRecordType reports a record whose kind could not be parsed
func ErrUnknownRecordType(kind string) *AppError {
	return NewAppErrorWithDetails(ErrCodeUnknownRecordType, "cannot parse record type", kind)
}

// ErrRuleFailed reports a fatal validation rule outcome
func ErrRuleFailed(ruleName string) *AppError {
	return NewAppErrorWithDetails(ErrCodeRuleFailed, "fatal rule failed", ruleName)
}

// ErrTransient wraps a collaborator failure that the retry queue should redeliver
func ErrTransient(operation string, cause error) *AppError {
	return NewAppErrorWithCause(ErrCodeTransientService,
		fmt.Sprintf("transient failure: %s", operation), cause)
}

// ErrRateLimited creates a rate limited error
func ErrRateLimited() *AppError {
	return NewAppError(ErrCodeRateLimited, "rate limit exceeded")
}

// RecoverHandler converts a recovered panic value into an error. It must be
// called directly from a deferred function.
func RecoverHandler(r interface{}) *AppError {
	if r == nil {
		return nil
	}
	switch v := r.(type) {
	case error:
		return NewAppErrorWithCause(ErrCodeInternal, "panic occurred", v)
	case string:
		return NewAppError(ErrCodeInternal, v)
	default:
		return NewAppError(ErrCodeInternal, fmt.Sprintf("panic occurred: %v", v))
	}
}

// ValidationError represents a field validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}

	fields := make([]string, 0, len(ve))
	for _, e := range ve {
		fields = append(fields, e.Field+" "+e.Message)
	}
	return "validation failed: " + strings.Join(fields, "; ")
}

// ToAppError converts ValidationErrors to AppError
func (ve ValidationErrors) ToAppError() *AppError {
	if len(ve) == 0 {
		return nil
	}

	appErr := NewAppErrorWithDetails(ErrCodeValidationFailed, "validation failed", ve.Error())
	appErr.WithContext("validation_errors", ve)
	return appErr
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, message string, value interface{}) {
	*ve = append(*ve, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}
