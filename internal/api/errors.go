package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/voicockpit/cockpit/internal/account"
	"github.com/voicockpit/cockpit/internal/apperr"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v interface{}) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

// writeDomainError maps a service error onto the status taxonomy:
// unauthorized 401, validation 400, not found 404, conflict 409 and
// anything else 500. notFound is the message used when the error carries
// no message of its own (a missing database row).
func writeDomainError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	kind := apperr.Kind(err)
	switch {
	case errors.Is(kind, apperr.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", errorMessage(err, kind, "Unauthorized"))
	case errors.Is(kind, apperr.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", errorMessage(err, kind, "invalid request"))
	case errors.Is(kind, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", errorMessage(err, kind, notFound))
	case errors.Is(kind, apperr.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", errorMessage(err, kind, "resource already exists"))
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// errorMessage returns the user-facing part of a domain error, the text
// following "<kind>: ". Errors without one, such as wrapped driver errors,
// yield fallback.
func errorMessage(err, kind error, fallback string) string {
	var locked *account.LockedError
	if errors.As(err, &locked) {
		return locked.Error()
	}
	msg := err.Error()
	if strings.Contains(msg, "\n") {
		return fallback
	}
	prefix := kind.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return fallback
}
