package errors

import (
	"net/http"
)

// NewError creates a CitegateError with full control over its fields. Prefer
// one of the specialized constructors below.
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *CitegateError {
	return &CitegateError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewAuthError creates an authentication error (401).
func NewAuthError(requestID, message string, err error) *CitegateError {
	return &CitegateError{
		Type:      AuthError,
		Message:   message,
		Code:      http.StatusUnauthorized,
		RequestID: requestID,
		err:       err,
		Details: map[string]interface{}{
			"suggestion": "Send a configured key in the X-API-Key header",
		},
	}
}

// NewValidationError creates a request validation error (400).
//
// Example:
//
//	err := NewValidationError("req_123", "Invalid document", map[string]interface{}{
//	    "field": "documents[0].text",
//	    "error": "required",
//	})
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *CitegateError {
	return &CitegateError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewConversionError reports a message that could not be converted to genai
// contents (422). The cause is typically one of the convert package sentinels.
func NewConversionError(requestID, message string, err error) *CitegateError {
	return &CitegateError{
		Type:      ConversionError,
		Message:   message,
		Code:      http.StatusUnprocessableEntity,
		RequestID: requestID,
		err:       err,
	}
}

// NewCitationError reports model output the citation pipeline could not use (502).
func NewCitationError(requestID, message string, err error) *CitegateError {
	return &CitegateError{
		Type:      CitationError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(requestID string, retryAfter int) *CitegateError {
	return &CitegateError{
		Type:      RateLimitError,
		Message:   "Rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// NewProviderError creates an upstream LLM provider error (502).
func NewProviderError(requestID string, message string, err error) *CitegateError {
	return &CitegateError{
		Type:      ProviderError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(requestID string, err error) *CitegateError {
	return &CitegateError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}
