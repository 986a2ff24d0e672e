package models

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	// Fatal stage failures abort the pipeline and surface to the caller.
	ErrorTypeParse ErrorType = "parse_error"
	ErrorTypeFetch ErrorType = "fetch_error"

	// Non-fatal failures are absorbed as degraded annotations.
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeSummary    ErrorType = "summary_error"

	ErrorTypeTimeout  ErrorType = "timeout_error"
	ErrorTypeExternal ErrorType = "external_error"
	ErrorTypeInternal ErrorType = "internal_error"
)

// AppError is the single error shape the pipeline propagates. Code is a
// stable machine-readable identifier, Message is safe to surface to the
// caller.
type AppError struct {
	Type     ErrorType
	Code     string
	Message  string
	Cause    error
	Metadata map[string]any
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

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithMetadata(key string, value any) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

func newAppError(t ErrorType, code, message string) *AppError {
	return &AppError{Type: t, Code: code, Message: message}
}

func NewParseError(code, message string) *AppError {
	return newAppError(ErrorTypeParse, code, message)
}

func NewFetchError(code, message string) *AppError {
	return newAppError(ErrorTypeFetch, code, message)
}

func NewValidationError(code, message string) *AppError {
	return newAppError(ErrorTypeValidation, code, message)
}

func NewSummaryError(code, message string) *AppError {
	return newAppError(ErrorTypeSummary, code, message)
}

func NewTimeoutError(code, message string) *AppError {
	return newAppError(ErrorTypeTimeout, code, message)
}

func NewInternalError(code, message string) *AppError {
	return newAppError(ErrorTypeInternal, code, message)
}

func WrapExternalError(provider string, err error) *AppError {
	return newAppError(ErrorTypeExternal, provider+"_ERROR", "external provider call failed").WithCause(err)
}

func errorIsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

func IsParseError(err error) bool { return errorIsType(err, ErrorTypeParse) }
func IsFetchError(err error) bool { return errorIsType(err, ErrorTypeFetch) }
