package media

import (
	"errors"
	"fmt"
)

// ErrorCode classifies lifecycle failures.
type ErrorCode string

const (
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	CodeNetworkError     ErrorCode = "NETWORK_ERROR"
	CodeQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeCancelled        ErrorCode = "CANCELLED"
	CodeNotOrphaned      ErrorCode = "NOT_ORPHANED"
	CodeUnsafeDelete     ErrorCode = "UNSAFE_DELETE"
	CodeDeleteFailed     ErrorCode = "DELETE_FAILED"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// Retryable reports whether an operation failing with this code may be
// attempted again.
func (c ErrorCode) Retryable() bool {
	return c == CodeNetworkError
}

// Error carries a lifecycle error code alongside the underlying cause.
type Error struct {
	Code        ErrorCode
	Message     string
	Recoverable bool
	Err         error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err, Recoverable: code.Retryable() || code == CodeDeleteFailed}
}

// CodeOf extracts the lifecycle code from err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}

	return CodeUnknown
}
