package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nadmax/ecotask/internal/accounting"
	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()

	var env Envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	WriteMessage(w, http.StatusCreated, map[string]string{"id": "p-1"}, "project created")

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	env := decode(t, w)
	assert.True(t, env.Success)
	assert.Equal(t, "project created", env.Message)
	assert.Nil(t, env.Error)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &ValidationError{Details: []FieldError{{Field: "title", Message: "too short"}}}, http.StatusBadRequest},
		{"unknown category", fmt.Errorf("compute: %w", co2.ErrUnknownCategory), http.StatusBadRequest},
		{"negative hours", co2.ErrInvalidDuration, http.StatusBadRequest},
		{"dangling reference", repository.ErrInvalidReference, http.StatusBadRequest},
		{"not found", fmt.Errorf("task 1: %w", repository.ErrNotFound), http.StatusNotFound},
		{"conflict", repository.ErrConflict, http.StatusConflict},
		{"unavailable", repository.ErrUnavailable, http.StatusServiceUnavailable},
		{"aggregation", fmt.Errorf("%w: project 1", accounting.ErrAggregationIncomplete), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestWriteError_Validation(t *testing.T) {
	var v ValidationError
	v.Add("title", "must be between 2 and 200 characters")
	v.Add("estimatedHours", "must be between 0.1 and 1000")
	w := httptest.NewRecorder()

	WriteError(w, v.Err())

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid data", env.Error.Message)
	require.Len(t, env.Error.Details, 2)
	assert.Equal(t, "estimatedHours", env.Error.Details[1].Field)
}

func TestWriteError_Reference(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, fmt.Errorf("create task: %w", &repository.ReferenceError{Field: "projectId", ID: "6f1d"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid data", env.Error.Message)
	require.Len(t, env.Error.Details, 1)
	assert.Equal(t, "projectId", env.Error.Details[0].Field)
}

func TestWriteError_Unavailable(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, fmt.Errorf("commit: %w", repository.ErrUnavailable))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	env := decode(t, w)
	assert.True(t, env.Error.Retryable)
}

func TestWriteError_InternalHidesDetails(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decode(t, w).Error.Message)
}

func TestValidationError_Err(t *testing.T) {
	var v ValidationError
	assert.NoError(t, v.Err())

	v.Add("email", "invalid email")
	assert.EqualError(t, v.Err(), "invalid data: email: invalid email")
}
