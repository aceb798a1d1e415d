package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loonworks/loonflow/ticket"
)

// envelope is a standard JSON response wrapper.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// paginatedEnvelope wraps a list response with pagination metadata.
type paginatedEnvelope struct {
	Data    any `json:"data"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: message})
}

// WritePaginated writes a paginated JSON response.
func WritePaginated(w http.ResponseWriter, items any, total, page, perPage int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(paginatedEnvelope{
		Data:    items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// WriteServiceError maps a ticket service error onto an HTTP status. The
// sentinel in the error's chain decides the code; the wrapped message is
// passed through as the response body.
func WriteServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ticket.ErrBadArgument):
		status = http.StatusBadRequest
	case errors.Is(err, ticket.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ticket.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, ticket.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ticket.ErrResolution):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ticket.ErrInvariant):
		status = http.StatusInternalServerError
	case errors.Is(err, ticket.ErrUpstream):
		status = http.StatusBadGateway
	}
	WriteError(w, status, err.Error())
}
