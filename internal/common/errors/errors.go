// Package errors provides standardized error handling for the submission pipeline and sync jobs.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeRemoteLocked         ErrorCode = "REMOTE_LOCKED"
	ErrCodeRemoteTransient      ErrorCode = "REMOTE_TRANSIENT"
	ErrCodeRemoteUnauthorized   ErrorCode = "REMOTE_UNAUTHORIZED"
	ErrCodeRemoteNotFound       ErrorCode = "REMOTE_NOT_FOUND"
	ErrCodeRemoteSchemaMismatch ErrorCode = "REMOTE_SCHEMA_MISMATCH"

	ErrCodeStorageError     ErrorCode = "STORAGE_ERROR"
	ErrCodeJournalNotFound  ErrorCode = "JOURNAL_NOT_FOUND"
	ErrCodeTokenUnavailable ErrorCode = "TOKEN_UNAVAILABLE"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Sentinel errors. Adapters wrap these with fmt.Errorf("%w: ...") so callers
// can branch with errors.Is without knowing the concrete backend.
var (
	ErrValidation       = stderrors.New("validation failed")
	ErrLocked           = stderrors.New("remote resource locked")
	ErrTransient        = stderrors.New("transient remote error")
	ErrUnauthorized     = stderrors.New("remote unauthorized")
	ErrNotFound         = stderrors.New("remote resource not found")
	ErrSchemaMismatch   = stderrors.New("remote schema mismatch")
	ErrStorage          = stderrors.New("journal storage error")
	ErrJournalNotFound  = stderrors.New("journal entry not found")
	ErrTokenUnavailable = stderrors.New("access token unavailable")
	ErrNotification     = stderrors.New("notification send failed")
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying sentinel, when there is one.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable validation error surfaced to the caller.
func NewValidationError(details string, problems []string) *StandardError {
	meta := map[string]interface{}{}
	if len(problems) > 0 {
		meta["problems"] = problems
	}
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Submission data validation failed",
		Details:   details,
		Retryable: false,
		Metadata:  meta,
		Timestamp: time.Now().UTC(),
		cause:     ErrValidation,
	}
}

// NewStorageError creates a journal storage error.
func NewStorageError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageError,
		Message:   "Journal storage operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     ErrStorage,
	}
}

// NewRemoteError builds a StandardError for a failed remote call, keeping the
// classification of err.
func NewRemoteError(operation string, err error) *StandardError {
	code := Classify(err)
	return &StandardError{
		Code:      code,
		Message:   fmt.Sprintf("Remote operation '%s' failed", operation),
		Details:   err.Error(),
		Retryable: IsRetryableErrorCode(code),
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewTokenUnavailableError creates a retryable token error.
func NewTokenUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTokenUnavailable,
		Message:   "Access token could not be obtained",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     ErrTokenUnavailable,
	}
}

// NewNotificationSendFailedError creates a notification send error. The
// pipeline never retries it.
func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("type: %s, error: %s", notificationType, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     ErrNotification,
	}
}

// ==========================
// 3. Classification
// ==========================

// lockedIndicators are the substrings remote backends use when a resource is
// held by another writer.
var lockedIndicators = []string{
	"locked",
	"in use",
	"being used",
	"cannot access",
	"423",
	"cobaltlockviolation",
	"resourcelocked",
	"file is open",
}

// Classify maps any error to an ErrorCode. Wrapped sentinels win; otherwise
// the message is inspected for lock indicators and the rest is treated as
// transient.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var stdErr *StandardError
	if stderrors.As(err, &stdErr) && stdErr.Code != "" && stdErr.Code != ErrCodeInternal {
		return stdErr.Code
	}

	switch {
	case stderrors.Is(err, ErrValidation):
		return ErrCodeValidationFailed
	case stderrors.Is(err, ErrLocked):
		return ErrCodeRemoteLocked
	case stderrors.Is(err, ErrUnauthorized):
		return ErrCodeRemoteUnauthorized
	case stderrors.Is(err, ErrNotFound):
		return ErrCodeRemoteNotFound
	case stderrors.Is(err, ErrSchemaMismatch):
		return ErrCodeRemoteSchemaMismatch
	case stderrors.Is(err, ErrStorage):
		return ErrCodeStorageError
	case stderrors.Is(err, ErrJournalNotFound):
		return ErrCodeJournalNotFound
	case stderrors.Is(err, ErrTokenUnavailable):
		return ErrCodeTokenUnavailable
	case stderrors.Is(err, ErrNotification):
		return ErrCodeNotificationSendFailed
	case stderrors.Is(err, ErrTransient):
		return ErrCodeRemoteTransient
	}

	if looksLocked(err.Error()) {
		return ErrCodeRemoteLocked
	}
	return ErrCodeRemoteTransient
}

func looksLocked(msg string) bool {
	lower := strings.ToLower(msg)
	for _, indicator := range lockedIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// IsLocked reports whether err belongs to the locked-resource class.
func IsLocked(err error) bool {
	return err != nil && Classify(err) == ErrCodeRemoteLocked
}

// IsRetryable reports whether a later attempt may succeed.
func IsRetryable(err error) bool {
	return err != nil && IsRetryableErrorCode(Classify(err))
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	switch code {
	case ErrCodeRemoteLocked,
		ErrCodeRemoteTransient,
		ErrCodeTokenUnavailable,
		ErrCodeStorageError:
		return true
	default:
		return false
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeValidationFailed:
		return "validation"
	case ErrCodeRemoteLocked:
		return "locked"
	case ErrCodeRemoteTransient, ErrCodeTokenUnavailable:
		return "transient"
	case ErrCodeStorageError, ErrCodeJournalNotFound:
		return "storage"
	default:
		return "permanent"
	}
}

// Message returns a short human-readable text for err suitable for
// persisting on a journal entry.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		if stdErr.Details != "" {
			return fmt.Sprintf("%s: %s", stdErr.Code, stdErr.Details)
		}
		return fmt.Sprintf("%s: %s", stdErr.Code, stdErr.Message)
	}
	return err.Error()
}
