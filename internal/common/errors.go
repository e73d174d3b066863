package common

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound        = errors.New("resource not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInternal        = errors.New("internal error")
	ErrDatabase        = errors.New("database error")
	ErrValidation      = errors.New("validation failed")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrPathEscape      = errors.New("path resolves outside allowed roots")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func NotFoundErrorf(format string, args ...interface{}) error {
	return NewAppError("NOT_FOUND", fmt.Sprintf(format, args...), ErrNotFound)
}

func ConflictErrorf(format string, args ...interface{}) error {
	return NewAppError("CONFLICT", fmt.Sprintf(format, args...), ErrConflict)
}

func InvalidInputErrorf(format string, args ...interface{}) error {
	return NewAppError("INVALID_INPUT", fmt.Sprintf(format, args...), ErrInvalidInput)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// TruncateMessage caps s at max runes, marking the cut.
func TruncateMessage(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	const marker = "...(truncated)"
	runes := []rune(s)
	keep := max - utf8.RuneCountInString(marker)
	if keep <= 0 {
		return string(runes[:max])
	}
	return string(runes[:keep]) + marker
}
