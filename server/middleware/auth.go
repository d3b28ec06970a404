package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/teilomillet/citegate/errors"
)

// apiKeyFromRequest reads the key from X-API-Key or an Authorization bearer token.
func apiKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// Authentication validates API keys against keys. With no keys configured
// any non-empty key is accepted.
func Authentication(keys []string) func(http.Handler) http.Handler {
	allowed := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			allowed = append(allowed, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())
			apiKey := apiKeyFromRequest(r)
			if apiKey == "" {
				errors.WriteError(w, errors.NewAuthError(requestID, "Missing API key", nil))
				return
			}

			if len(allowed) > 0 && !keyAllowed(allowed, []byte(apiKey)) {
				errors.WriteError(w, errors.NewAuthError(requestID, "Invalid API key", nil))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// keyAllowed compares against every key so timing does not depend on which one matched.
func keyAllowed(allowed [][]byte, key []byte) bool {
	match := 0
	for _, k := range allowed {
		match |= subtle.ConstantTimeCompare(k, key)
	}
	return match == 1
}
