// Package apperrors defines the error taxonomy shared by the job engine and its HTTP surface.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ValidationError reports malformed payload or request input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidation creates a ValidationError for the given field.
func NewValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing target entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// ConflictError is returned by enqueue when an active job already covers the same target.
type ConflictError struct {
	JobID     string
	Status    string
	CreatedAt time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("active job %s (%s) already exists for this target", e.JobID, e.Status)
}

// InvalidStateError is returned when an operation does not apply to an entity's current status.
type InvalidStateError struct {
	Entity string
	ID     string
	Status string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: status is %s", e.Op, e.Entity, e.ID, e.Status)
}

// TimeoutError reports a handler that exceeded its wall-clock budget.
type TimeoutError struct {
	JobID   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s exceeded timeout of %s", e.JobID, e.Timeout)
}

// ExternalServiceError wraps a failure in a fetch, store or AI collaborator.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// NewExternal wraps err as a failure of the named collaborator. A nil err yields nil.
func NewExternal(service string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalServiceError{Service: service, Err: err}
}

// UnknownJobTypeError is returned by the executor when no handler is registered for a type.
type UnknownJobTypeError struct {
	Type string
}

func (e *UnknownJobTypeError) Error() string {
	return "unknown job type: " + e.Type
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		conflictErr   *ConflictError
		stateErr      *InvalidStateError
		unknownErr    *UnknownJobTypeError
	)

	switch {
	case errors.As(err, &validationErr), errors.As(err, &unknownErr):
		return http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound
	case errors.As(err, &conflictErr), errors.As(err, &stateErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
