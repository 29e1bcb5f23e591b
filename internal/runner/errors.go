package runner

import (
	"errors"
	"fmt"
	"sync"

	apperrors "hdxscraper/internal/errors"
)

// UnitError is the failure of one unit for one level.
type UnitError struct {
	Unit  string              `json:"unit"`
	Level string              `json:"level,omitempty"`
	Type  apperrors.ErrorType `json:"type"`
	Cause error               `json:"-"`
}

// Error implements the error interface
func (e *UnitError) Error() string {
	if e.Level != "" {
		return fmt.Sprintf("[%s] %s (%s): %v", e.Type, e.Unit, e.Level, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Type, e.Unit, e.Cause)
}

// Unwrap returns the underlying error
func (e *UnitError) Unwrap() error { return e.Cause }

func newUnitError(unit, level string, cause error) *UnitError {
	t := apperrors.TypeOf(cause)
	if t == "" {
		t = apperrors.ErrTypeSourceUnavailable
	}
	return &UnitError{Unit: unit, Level: level, Type: t, Cause: cause}
}

// ErrorList collects unit failures. It is safe for concurrent use.
type ErrorList struct {
	mu     sync.Mutex
	Errors []*UnitError `json:"errors"`
}

// Error implements the error interface
func (e *ErrorList) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors: %d units failed", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *ErrorList) Unwrap() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err
	}
	return out
}

// Add adds an error to the list
func (e *ErrorList) Add(err *UnitError) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Errors = append(e.Errors, err)
}

// HasErrors returns true if there are any errors
func (e *ErrorList) HasErrors() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Errors) > 0
}

// ByUnit returns the errors of one unit.
func (e *ErrorList) ByUnit(unit string) []*UnitError {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*UnitError
	for _, err := range e.Errors {
		if err.Unit == unit {
			out = append(out, err)
		}
	}
	return out
}

// Err returns the list as an error, nil when empty.
func (e *ErrorList) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// IsUnitError reports whether err holds a unit failure rather than a
// run-fatal error.
func IsUnitError(err error) bool {
	var list *ErrorList
	if errors.As(err, &list) {
		return true
	}
	var ue *UnitError
	return errors.As(err, &ue)
}
