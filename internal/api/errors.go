package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/sensecraft-core/internal/entry"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeDevice       = "device_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeSessionError maps entry and session errors to HTTP responses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entry.ErrEntryNotFound):
		writeNotFound(w, "session not found")
	case errors.Is(err, session.ErrUnknownCommand),
		errors.Is(err, session.ErrInvalidConfig),
		errors.Is(err, entry.ErrUnknownKind),
		errors.Is(err, entry.ErrInvalidEntry):
		writeBadRequest(w, err.Error())
	case errors.Is(err, session.ErrNotConnected):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		// Command failures and transport setup errors.
		writeError(w, http.StatusBadGateway, ErrCodeDevice, err.Error())
	}
}
