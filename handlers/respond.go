package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/IRCHrocks25/KatCon-sub001/services"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   data,
	})
}

func writeJSONError(w http.ResponseWriter, status int, msg, code string, retryable bool) {
	writeJSON(w, status, map[string]any{
		"status":    "error",
		"error":     msg,
		"code":      code,
		"retryable": retryable,
	})
}

// writeError maps the service error taxonomy onto HTTP. Only transient
// failures are marked retryable.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, err.Error(), "validation_error", false)
	case errors.Is(err, services.ErrPermissionDenied):
		writeJSONError(w, http.StatusForbidden, err.Error(), "permission_denied", false)
	case errors.Is(err, services.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error(), "not_found", false)
	case errors.Is(err, services.ErrTransient):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error(), "transient_failure", true)
	default:
		log.Printf("Internal error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error", "internal", false)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request format", "validation_error", false)
		return false
	}
	return true
}
