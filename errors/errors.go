// Package errors provides the error model shared by every citegate endpoint.
// Errors are written to clients as JSON documents carrying a type, a message,
// the request ID and optional details, and are logged through zap.
//
// Basic usage:
//
//	// Type-specific error with context
//	errors.ErrorWithType(w, "Invalid input", errors.ValidationError, http.StatusBadRequest)
//
// Constructors in types.go cover the common cases:
//
//	err := errors.NewConversionError(requestID, "messages[2]: tool name is required", cause)
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the package-wide logger. It starts as a production logger
// and can be replaced with SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger replaces DefaultLogger. A nil logger is ignored.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType categorizes an error for clients.
type ErrorType string

const (
	// AuthError represents authentication and authorization failures
	AuthError ErrorType = "authentication_error"

	// ValidationError represents input validation failures
	ValidationError ErrorType = "validation_error"

	// ConversionError represents messages that cannot be mapped to genai contents
	ConversionError ErrorType = "conversion_error"

	// CitationError represents a citation pass that produced unusable output
	CitationError ErrorType = "citation_error"

	// InternalError represents unexpected internal server errors
	InternalError ErrorType = "internal_error"

	// ConfigError represents configuration-related errors
	ConfigError ErrorType = "config_error"

	// ProviderError represents errors from LLM providers
	ProviderError ErrorType = "provider_error"

	// RateLimitError represents rate limiting errors
	RateLimitError ErrorType = "rate_limit_error"

	// QueueFullError is returned when the request queue has no room left
	QueueFullError ErrorType = "queue_full"

	// NotFoundError represents resource not found errors
	NotFoundError ErrorType = "not_found"
)

// CitegateError is the error value returned to API clients. Code and the
// wrapped cause never reach the JSON body.
type CitegateError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      int                    `json:"-"`
	RequestID string                 `json:"request_id"`
	Details   map[string]interface{} `json:"details,omitempty"`

	err error
}

// Error implements the error interface.
func (e *CitegateError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *CitegateError) Unwrap() error {
	return e.err
}

// Is matches on Type only, so errors.Is(err, &CitegateError{Type: X}) works
// regardless of message or request ID.
func (e *CitegateError) Is(target error) bool {
	t, ok := target.(*CitegateError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WriteError writes err as a JSON response with err.Code as status.
func WriteError(w http.ResponseWriter, err *CitegateError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	if encErr := json.NewEncoder(w).Encode(err); encErr != nil {
		DefaultLogger.Error("failed to encode error response",
			zap.Error(encErr),
			zap.String("request_id", err.RequestID),
		)
	}
}

// Error is a drop-in replacement for http.Error producing an InternalError
// body. The request ID is taken from the response headers when present.
func Error(w http.ResponseWriter, message string, code int) {
	ErrorWithType(w, message, InternalError, code)
}

// ErrorWithType is like Error but lets the caller pick the error type.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, code int) {
	WriteError(w, &CitegateError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}
