package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/wagerforge/wagerd/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a settlement error to its HTTP status and writes the
// JSON error body.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

// errorStatus maps the settlement error taxonomy to HTTP status codes.
// Client errors (state, authorization, lookup) are 4xx; feed and executor
// failures are 502 so callers can tell a retryable upstream outage from a
// local fault.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrAlreadyProcessed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidParticipant):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrQuoteUnavailable),
		errors.Is(err, domain.ErrResultUnavailable),
		errors.Is(err, domain.ErrExecutor):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody parses the request body as JSON into dst.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
