package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/highlight"
	"github.com/teranos/reel/pulse/budget"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	_ = writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps err onto a status code and writes it.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor maps the error sentinels onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrInvalidConfirmationState), errors.Is(err, highlight.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, budget.ErrBudgetExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// readJSON reads and decodes a JSON request body. An empty body leaves v
// untouched.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
