// Package respond writes JSON success and error bodies for the HTTP API.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dom/pickup-match/internal/domain"
	"github.com/rs/zerolog/hlog"
)

type errorPayload struct {
	Kind    domain.ErrorKind    `json:"kind"`
	Message string              `json:"message"`
	Fields  []domain.FieldError `json:"fields,omitempty"`
}

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NoContent writes a 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// StatusFor maps a domain error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthorized, domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as the JSON error envelope. Anything that is not a domain
// error is logged and reported as a generic 500.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		JSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorPayload{
			Kind:    "INTERNAL",
			Message: "internal server error",
		}})
		return
	}

	status := StatusFor(de.Kind)
	if status == http.StatusUnauthorized && de.Kind == domain.KindUnauthenticated {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	JSON(w, status, errorEnvelope{Error: errorPayload{
		Kind:    de.Kind,
		Message: de.Message,
		Fields:  de.Fields,
	}})
}

// BadRequest reports an unreadable request body or parameter.
func BadRequest(w http.ResponseWriter, r *http.Request, message string, fields ...domain.FieldError) {
	Error(w, r, domain.NewValidationError(message, fields...))
}
