package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aigrc/pipeline/pkg/events"
)

// Transport-level codes. Everything about an event uses the closed
// EVT_* set; these cover failures that happen before (or beside) any
// event exists.
const (
	codeUnauthorized     events.Code = "UNAUTHORIZED"
	codeNotFound         events.Code = "NOT_FOUND"
	codeMethodNotAllowed events.Code = "METHOD_NOT_ALLOWED"
)

// writeJSON writes v with the given status. Encoding failures are
// logged only; the status line is already on the wire.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// WriteCoded writes the uniform error envelope for a coded rejection.
func WriteCoded(w http.ResponseWriter, status int, e *events.Error) {
	writeJSON(w, status, events.ErrorBody{Error: e})
}

// WriteError writes the uniform error envelope from a code and message.
func WriteError(w http.ResponseWriter, status int, code events.Code, message string) {
	WriteCoded(w, status, &events.Error{Code: code, Message: message})
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "authentication required"
	}
	WriteError(w, http.StatusUnauthorized, codeUnauthorized, message)
}

// WriteForbidden writes a 403 org-mismatch response.
func WriteForbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = "event orgId does not match the authenticated organization"
	}
	WriteError(w, http.StatusForbidden, events.CodeOrgMismatch, message)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, codeNotFound, message)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed,
		"the HTTP method is not supported for this endpoint")
}

// WriteTooManyRequests writes a 429 response with the Retry-After
// header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs < 1 {
		retryAfterSecs = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, events.CodeRateLimited,
		"rate limit exceeded, retry after the indicated interval")
}

// WriteInternal writes a 500 error response. The err parameter is
// logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, events.CodeInternal,
		"an unexpected error occurred")
}
