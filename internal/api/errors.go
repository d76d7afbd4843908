package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/alpaca-lotto/internal/errors"
	"github.com/alpaca-lotto/internal/logging"
)

// errorResponse is the envelope for every failed request.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// respondError sends a {success: false, error: message} response.
func respondError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(errorResponse{Success: false, Error: message})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondServiceError maps a service-layer error to its HTTP status and the
// standard error envelope. Server-side failures are logged with their cause;
// the client sees only a safe message.
func respondServiceError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	catErr := apperrors.Categorize(err)
	statusCode := catErr.StatusCode
	message := catErr.Message

	if statusCode >= http.StatusInternalServerError {
		logger.WithFields(map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"code":   catErr.Code,
		}).WithError(err).Error("Request failed")

		// Upstream messages are written for clients; everything else 5xx
		// stays generic so internals never leak.
		if catErr.Category != apperrors.CategoryUpstream {
			message = "An internal error occurred"
		}
	}

	respondError(w, statusCode, message)
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
