// Package errors provides typed error codes shared by the queue, sync and reminder layers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure that callers can branch on.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Queue store errors
	ErrQueueUnavailable   ErrorCode = "QUEUE_UNAVAILABLE"
	ErrQueueQuotaExceeded ErrorCode = "QUEUE_QUOTA_EXCEEDED"
	ErrQueueFull          ErrorCode = "QUEUE_FULL"

	// Network and sync errors
	ErrNetworkUnavailable ErrorCode = "NETWORK_UNAVAILABLE"
	ErrSyncFailed         ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress     ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncTimeout        ErrorCode = "SYNC_TIMEOUT"

	// Reminder errors
	ErrReminderNotFound      ErrorCode = "REMINDER_NOT_FOUND"
	ErrReminderMisconfigured ErrorCode = "REMINDER_MISCONFIGURED"
	ErrSnoozeLimitReached    ErrorCode = "SNOOZE_LIMIT_REACHED"
	ErrInvalidAction         ErrorCode = "INVALID_ACTION"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any AppError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsStoreFailure reports whether err means a mutation could not be made durable.
func IsStoreFailure(err error) bool {
	return Is(err, ErrQueueUnavailable) || Is(err, ErrQueueQuotaExceeded) || Is(err, ErrQueueFull)
}
