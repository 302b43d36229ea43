// Package httputil contains shared HTTP utilities for consistent response formatting across handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nadmax/ecotask/internal/accounting"
	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/repository"
	"github.com/rs/zerolog/log"
)

type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Message   string       `json:"message"`
	Details   []FieldError `json:"details,omitempty"`
	Retryable bool         `json:"retryable,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every rejected field of a request.
type ValidationError struct {
	Details []FieldError
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Details))
	for _, d := range v.Details {
		parts = append(parts, d.Field+": "+d.Message)
	}

	return "invalid data: " + strings.Join(parts, "; ")
}

func (v *ValidationError) Add(field, message string) {
	v.Details = append(v.Details, FieldError{Field: field, Message: message})
}

// Err returns v when at least one field was rejected, nil otherwise.
func (v *ValidationError) Err() error {
	if len(v.Details) == 0 {
		return nil
	}

	return v
}

func write(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{Success: true, Data: data})
}

func WriteMessage(w http.ResponseWriter, status int, data any, message string) {
	write(w, status, Envelope{Success: true, Data: data, Message: message})
}

func WriteJSONError(w http.ResponseWriter, message string, status int) {
	write(w, status, Envelope{Error: &ErrorBody{Message: message}})
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation),
		errors.Is(err, co2.ErrUnknownCategory),
		errors.Is(err, co2.ErrInvalidDuration),
		errors.Is(err, repository.ErrInvalidReference):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, repository.ErrUnavailable),
		errors.Is(err, accounting.ErrAggregationIncomplete):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err with the status StatusFor picks. Internal errors are
// logged and replaced by a generic message.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := &ErrorBody{Message: err.Error()}

	var (
		validation *ValidationError
		reference  *repository.ReferenceError
	)
	switch {
	case errors.As(err, &validation):
		body.Message = "invalid data"
		body.Details = validation.Details
	case errors.As(err, &reference):
		body.Message = "invalid data"
		body.Details = []FieldError{{Field: reference.Field, Message: "references a resource that does not exist"}}
	case status == http.StatusServiceUnavailable:
		log.Warn().Err(err).Msg("storage unavailable")
		body.Message = "storage temporarily unavailable"
		body.Retryable = true
	case status == http.StatusInternalServerError:
		log.Error().Err(err).Msg("request failed")
		body.Message = "internal server error"
	}

	write(w, status, Envelope{Error: body})
}
