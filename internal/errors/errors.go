package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// ToAPIError maps an application error onto an HTTP response.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return New(http.StatusInternalServerError, "INTERNAL", err.Error())
	}
	status := http.StatusInternalServerError
	switch appErr.Type {
	case ErrTypeNotFound:
		status = http.StatusNotFound
	case ErrTypeConfig:
		status = http.StatusBadRequest
	case ErrTypeSourceUnavailable:
		status = http.StatusBadGateway
	}
	return &APIError{
		StatusCode: status,
		ErrorCode:  string(appErr.Type),
		Message:    appErr.Error(),
		Details:    appErr.Context,
	}
}
