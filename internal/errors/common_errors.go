package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeConfig                  ErrorType = "CONFIG"
	ErrTypeSourceUnavailable       ErrorType = "SOURCE_UNAVAILABLE"
	ErrTypeFormat                  ErrorType = "FORMAT"
	ErrTypeAdminResolutionMiss     ErrorType = "ADMIN_RESOLUTION_MISS"
	ErrTypeExpression              ErrorType = "EXPRESSION"
	ErrTypeAggregationInputMissing ErrorType = "AGGREGATION_INPUT_MISSING"
	ErrTypeNotFound                ErrorType = "NOT_FOUND"
	ErrTypeStorage                 ErrorType = "STORAGE"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError of the same type, so sentinel comparisons
// work regardless of message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Message == ""
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Sentinels usable with errors.Is. They match any AppError of the same type.
var (
	ErrConfig                  = &AppError{Type: ErrTypeConfig}
	ErrSourceUnavailable       = &AppError{Type: ErrTypeSourceUnavailable}
	ErrFormat                  = &AppError{Type: ErrTypeFormat}
	ErrAdminResolutionMiss     = &AppError{Type: ErrTypeAdminResolutionMiss}
	ErrExpression              = &AppError{Type: ErrTypeExpression}
	ErrAggregationInputMissing = &AppError{Type: ErrTypeAggregationInputMissing}
	ErrNotFound                = &AppError{Type: ErrTypeNotFound}
	ErrStorage                 = &AppError{Type: ErrTypeStorage}
)

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewSourceUnavailableError creates an error for a source that could not be read
func NewSourceUnavailableError(message string, cause error) *AppError {
	return NewAppError(ErrTypeSourceUnavailable, message, cause)
}

// NewFormatError creates an error for a malformed source
func NewFormatError(message string, cause error) *AppError {
	return NewAppError(ErrTypeFormat, message, cause)
}

// NewAdminResolutionMiss creates a per-row admin miss
func NewAdminResolutionMiss(raw string, level int) *AppError {
	return NewAppError(ErrTypeAdminResolutionMiss, fmt.Sprintf("could not resolve %q", raw), nil).
		WithContext("level", level)
}

// NewExpressionError creates an expression evaluation error
func NewExpressionError(expression string, cause error) *AppError {
	return NewAppError(ErrTypeExpression, fmt.Sprintf("evaluating %q", expression), cause)
}

// NewAggregationInputMissing creates an error for a destination with no inputs
func NewAggregationInputMissing(dest string) *AppError {
	return NewAppError(ErrTypeAggregationInputMissing, fmt.Sprintf("no values for %s", dest), nil)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// TypeOf returns the ErrorType of the first AppError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsType reports whether err carries an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}
