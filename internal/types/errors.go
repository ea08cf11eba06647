package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies pipeline failures.
type ErrorCode string

// Error codes.
const (
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeOverflow      ErrorCode = "OVERFLOW"
	CodeFatal         ErrorCode = "FATAL"
)

// Sentinels for errors.Is comparisons. Any *Error with the same code matches.
var (
	ErrInvalidInput  = &Error{Code: CodeInvalidInput}
	ErrInvalidConfig = &Error{Code: CodeInvalidConfig}
	ErrNotFound      = &Error{Code: CodeNotFound}
	ErrOverflow      = &Error{Code: CodeOverflow}
	ErrFatal         = &Error{Code: CodeFatal}
)

// Error is a pipeline error carrying a classification code.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Cause == nil:
		return string(e.Code)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new pipeline error.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// InvalidInput creates an INVALID_INPUT error with a formatted message.
func InvalidInput(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// InvalidConfig creates an INVALID_CONFIG error with a formatted message.
func InvalidConfig(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidConfig, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a NOT_FOUND error with a formatted message.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
