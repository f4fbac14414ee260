// Package types provides common error types for proper error propagation
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents standardized error codes across the application
type ErrorCode string

const (
	// General errors
	ErrorCodeUnknown    ErrorCode = "UNKNOWN_ERROR"
	ErrorCodeInternal   ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrorCodeConflict   ErrorCode = "CONFLICT"
	ErrorCodeTimeout    ErrorCode = "TIMEOUT"
	ErrorCodeCancelled  ErrorCode = "CANCELLED"

	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Upload validation errors
	ErrorCodeInvalidFile     ErrorCode = "INVALID_FILE"
	ErrorCodeMissingField    ErrorCode = "MISSING_FIELD"
	ErrorCodeInvalidISRC     ErrorCode = "INVALID_ISRC"
	ErrorCodeProvenanceBlock ErrorCode = "PROVENANCE_BLOCKED"

	// Gate errors
	ErrorCodeQuotaExceeded   ErrorCode = "QUOTA_EXCEEDED"
	ErrorCodeStorageExceeded ErrorCode = "STORAGE_EXCEEDED"
	ErrorCodeTierRestricted  ErrorCode = "TIER_RESTRICTED"

	// Transfer errors
	ErrorCodeTransferFailed ErrorCode = "TRANSFER_FAILED"
	ErrorCodeRecordFailed   ErrorCode = "RECORD_FAILED"
	ErrorCodeAlbumAborted   ErrorCode = "ALBUM_ABORTED"

	// Concurrency
	ErrorCodeUploadInProgress ErrorCode = "UPLOAD_IN_PROGRESS"
)

// ErrorCategory groups error codes by how the pipeline reacts to them.
type ErrorCategory string

const (
	// CategoryValidation errors are local, pre-network and fixable by the user.
	CategoryValidation ErrorCategory = "validation"
	// CategoryGate errors are resolved only by an out-of-band upgrade.
	CategoryGate ErrorCategory = "gate"
	// CategoryProvenance errors never block submission.
	CategoryProvenance ErrorCategory = "provenance"
	// CategoryTransfer errors are fatal to the current operation.
	CategoryTransfer ErrorCategory = "transfer"
	// CategoryInfra errors fail open.
	CategoryInfra ErrorCategory = "infra"
	// CategoryInternal is everything else.
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates the severity of an error
type ErrorSeverity string

const (
	SeverityInfo     ErrorSeverity = "info"
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError represents a structured error with metadata
type AppError struct {
	Code        ErrorCode              `json:"code"`
	Category    ErrorCategory          `json:"category"`
	Message     string                 `json:"message"`
	Details     string                 `json:"details,omitempty"`
	Severity    ErrorSeverity          `json:"severity"`
	HTTPStatus  int                    `json:"http_status"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	UserMessage string                 `json:"user_message,omitempty"` // User-friendly message
	Retryable   bool                   `json:"retryable"`

	// Chain of errors for debugging
	Cause       error  `json:"-"`
	CauseString string `json:"cause,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	if e.CauseString != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.CauseString)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets a user-friendly error message
func (e *AppError) WithUserMessage(message string) *AppError {
	e.UserMessage = message
	return e
}

// DisplayMessage returns the message shown to the user.
func (e *AppError) DisplayMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// ToJSON converts the error to JSON
func (e *AppError) ToJSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Category:   categoryFor(code),
		Message:    message,
		Severity:   SeverityError,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

// NewAppErrorWithCause creates an error with an underlying cause
func NewAppErrorWithCause(code ErrorCode, message string, httpStatus int, cause error) *AppError {
	err := NewAppError(code, message, httpStatus)
	err.Cause = cause
	if cause != nil {
		err.CauseString = cause.Error()
	}
	return err
}

// Common error constructors

// NewValidationError creates a validation error
func NewValidationError(message string, details ...string) *AppError {
	err := NewAppError(ErrorCodeValidation, message, http.StatusBadRequest)
	if len(details) > 0 {
		err.Details = details[0]
	}
	err.Severity = SeverityWarning
	return err
}

// NewFileValidationError creates an error listing every failed file rule.
func NewFileValidationError(name string, problems []string) *AppError {
	err := NewAppError(ErrorCodeInvalidFile, "invalid file", http.StatusBadRequest)
	err.Severity = SeverityWarning
	err.WithContext("file", name).WithContext("errors", problems)
	if len(problems) > 0 {
		err.Details = problems[0]
		err.UserMessage = problems[0]
	}
	return err
}

// NewMissingFieldError reports a required form field that was left empty.
func NewMissingFieldError(field string) *AppError {
	err := NewAppError(ErrorCodeMissingField, field+" is required", http.StatusBadRequest)
	err.Severity = SeverityWarning
	return err.WithContext("field", field)
}

// NewGateError creates a quota/storage/tier gate error with the upgrade text
// presented to the user.
func NewGateError(code ErrorCode, message, userMessage string) *AppError {
	status := http.StatusPaymentRequired
	if code == ErrorCodeTierRestricted {
		status = http.StatusForbidden
	}
	err := NewAppError(code, message, status)
	err.Severity = SeverityWarning
	err.UserMessage = userMessage
	return err
}

// NewTransferError creates an error for a failed asset transfer or record write.
func NewTransferError(code ErrorCode, message string, cause error) *AppError {
	err := NewAppErrorWithCause(code, message, http.StatusBadGateway, cause)
	err.Retryable = true
	if cause != nil {
		err.UserMessage = cause.Error()
	}
	return err
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *AppError {
	return NewAppError(
		ErrorCodeNotFound,
		fmt.Sprintf("%s not found", resource),
		http.StatusNotFound,
	).WithContext("resource", resource).WithContext("id", id)
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	err := NewAppErrorWithCause(ErrorCodeInternal, message, http.StatusInternalServerError, cause)
	err.Severity = SeverityCritical
	return err
}

func categoryFor(code ErrorCode) ErrorCategory {
	switch code {
	case ErrorCodeValidation, ErrorCodeInvalidFile, ErrorCodeMissingField,
		ErrorCodeInvalidISRC, ErrorCodeProvenanceBlock:
		return CategoryValidation
	case ErrorCodeQuotaExceeded, ErrorCodeStorageExceeded, ErrorCodeTierRestricted:
		return CategoryGate
	case ErrorCodeTransferFailed, ErrorCodeRecordFailed, ErrorCodeAlbumAborted:
		return CategoryTransfer
	case ErrorCodeTimeout:
		return CategoryInfra
	default:
		return CategoryInternal
	}
}

// HTTPStatusFromErrorCode maps error codes to HTTP status codes
func HTTPStatusFromErrorCode(code ErrorCode) int {
	switch code {
	case ErrorCodeValidation, ErrorCodeInvalidFile, ErrorCodeMissingField,
		ErrorCodeInvalidISRC, ErrorCodeProvenanceBlock:
		return http.StatusBadRequest
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeConflict, ErrorCodeUploadInProgress:
		return http.StatusConflict
	case ErrorCodeQuotaExceeded, ErrorCodeStorageExceeded:
		return http.StatusPaymentRequired
	case ErrorCodeTierRestricted:
		return http.StatusForbidden
	case ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrorCodeTransferFailed, ErrorCodeRecordFailed, ErrorCodeAlbumAborted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsAppError unwraps err into an *AppError when one is in the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries an AppError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Category == category
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable
	}
	return false
}
