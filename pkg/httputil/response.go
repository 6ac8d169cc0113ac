// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/keystone/pkg/apierror"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// denialBody is the wire shape for every error response.
type denialBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

// WriteAPIError maps a typed service error onto its HTTP response.
func WriteAPIError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	json.NewEncoder(w).Encode(denialBody{
		Error:  err.Message,
		Detail: err.Detail,
		Code:   err.Code,
	})
}

// WriteError converts any error into a response; unknown errors become a 500.
func WriteError(w http.ResponseWriter, err error) {
	WriteAPIError(w, apierror.From(err))
}

// WriteErrorMessage writes a JSON error body with an explicit status code,
// used by middleware that is not backed by a typed service error.
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(denialBody{Error: message})
}

// WriteBadRequest writes a 400 with an invalid-request body.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteAPIError(w, apierror.Invalid(detail))
}

// WriteInternalError writes a 500 without leaking the underlying error.
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteAPIError(w, apierror.ServiceFailure(err))
}
