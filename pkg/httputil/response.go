package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/ledmatrix/pkg/plugins"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error   string       `json:"error"`
	Kind    plugins.Kind `json:"kind,omitempty"`
	Message string       `json:"message,omitempty"`
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteNotFoundError writes a not found error (404)
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// StatusForKind maps a failure kind to the HTTP status reported for it
func StatusForKind(kind plugins.Kind) int {
	switch kind {
	case plugins.KindNotFound:
		return http.StatusNotFound
	case plugins.KindValidationFailure:
		return http.StatusUnprocessableEntity
	case plugins.KindRateLimited:
		return http.StatusTooManyRequests
	case plugins.KindTransientNetwork:
		return http.StatusBadGateway
	case plugins.KindLoadFailure, plugins.KindDependencyFailure, plugins.KindPartialInstall:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WritePluginError writes err with the status and kind of its failure class
func WritePluginError(w http.ResponseWriter, err error) {
	kind := plugins.KindOf(err)
	WriteJSON(w, StatusForKind(kind), ErrorResponse{
		Error:   string(kind),
		Kind:    kind,
		Message: err.Error(),
	})
}
