// Package handlers provides the local control API served under /_habitd/.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/logging"
)

// Prefix is the path prefix of every control endpoint. Everything else is proxied.
const Prefix = "/_habitd"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	if errors.IsStoreFailure(err) {
		return http.StatusInsufficientStorage
	}
	switch errors.CodeOf(err) {
	case errors.ErrValidation, errors.ErrInvalid, errors.ErrInvalidAction:
		return http.StatusBadRequest
	case errors.ErrReminderNotFound, errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrSnoozeLimitReached, errors.ErrSyncInProgress:
		return http.StatusConflict
	case errors.ErrSyncTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.Error("Control request failed", err, nil)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  errors.CodeOf(err),
	})
}
