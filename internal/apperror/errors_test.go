package apperror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"taskhub/internal/apperror"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperror.NewValidationError("title", "is required"), http.StatusBadRequest},
		{"not found", &apperror.NotFoundError{Kind: "task", ID: 3}, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("get task: %w", &apperror.NotFoundError{Kind: "task", ID: 3}), http.StatusNotFound},
		{"user not found", &apperror.UserNotFoundError{ID: 1}, http.StatusNotFound},
		{"conflict", &apperror.ConflictError{Field: "email"}, http.StatusConflict},
		{"dependency", &apperror.DependencyUnavailableError{Service: "user-service"}, http.StatusServiceUnavailable},
		{"no instances", fmt.Errorf("resolve: %w", apperror.ErrServiceUnavailable), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, apperror.HTTPStatus(tc.err))
		})
	}
}

func TestUserNotFoundIsNotGenericNotFound(t *testing.T) {
	err := &apperror.UserNotFoundError{ID: 7}
	assert.False(t, apperror.IsNotFound(err))
	assert.False(t, apperror.IsDependencyUnavailable(err))
	assert.Equal(t, "user not found with id: 7", err.Error())
}

func TestDependencyUnavailableUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("get user: %w", &apperror.DependencyUnavailableError{Service: "user-service", Cause: cause})
	assert.True(t, apperror.IsDependencyUnavailable(err))
	assert.ErrorIs(t, err, cause)
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	err := &apperror.ValidationError{Fields: map[string]string{"title": "is required", "description": "too long"}}
	assert.Equal(t, "validation failed: description: too long; title: is required", err.Error())
}
