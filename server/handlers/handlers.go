// Package handlers provides the HTTP handlers of the citegate API: message
// conversion to genai contents and citation annotation.
//
// Handlers decode and validate their body through the validation package,
// translate library errors into errors.CitegateError values and log with the
// request ID set by the request ID middleware.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/teilomillet/citegate/errors"
	"go.uber.org/zap"
)

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// methodNotAllowed answers non-POST requests when a handler is mounted
// without a method restriction.
func methodNotAllowed(w http.ResponseWriter, r *http.Request, requestID string) {
	w.Header().Set("Allow", http.MethodPost)
	errors.WriteError(w, errors.NewError(
		errors.ValidationError,
		"Method not allowed",
		http.StatusMethodNotAllowed,
		requestID,
		map[string]interface{}{
			"method":          r.Method,
			"allowed_methods": []string{http.MethodPost},
		},
		nil,
	))
}
