// Package apperror defines the error kinds shared by the registry, user and task services.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrServiceUnavailable is returned by a registry when a service has no live instances.
var ErrServiceUnavailable = errors.New("service unavailable")

// ValidationError carries field-level messages for malformed input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// NotFoundError reports a missing entity of the given kind.
type NotFoundError struct {
	Kind string
	ID   uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %d not found", e.Kind, e.ID)
}

// ConflictError reports a violated uniqueness constraint.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists", e.Field)
}

// UserNotFoundError means a task referenced a user the user-service confirmed absent.
type UserNotFoundError struct {
	ID uint
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user not found with id: %d", e.ID)
}

// DependencyUnavailableError means a remote service could not answer: no live
// instance, a transport failure, a timeout or an unexpected status.
type DependencyUnavailableError struct {
	Service string
	Cause   error
}

func (e *DependencyUnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("dependency %s unavailable", e.Service)
	}
	return fmt.Sprintf("dependency %s unavailable: %v", e.Service, e.Cause)
}

func (e *DependencyUnavailableError) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether err is a NotFoundError of any kind.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsDependencyUnavailable reports whether err is a DependencyUnavailableError.
func IsDependencyUnavailable(err error) bool {
	var du *DependencyUnavailableError
	return errors.As(err, &du)
}

// HTTPStatus maps an error to the status code returned at the HTTP boundary.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		conflict   *ConflictError
		userNF     *UserNotFoundError
		depUnavail *DependencyUnavailableError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &userNF), errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &depUnavail), errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
