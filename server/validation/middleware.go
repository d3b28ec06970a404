package validation

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/teilomillet/citegate/errors"
	"github.com/teilomillet/citegate/server/processing"
)

// Validator checks decoded request bodies.
type Validator struct {
	validate         *validator.Validate
	counter          *TokenCounter
	maxContextTokens int
}

// NewValidator creates a Validator. counter may be nil, in which case token
// limits are not enforced.
func NewValidator(counter *TokenCounter, maxContextTokens int) *Validator {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate:         validate,
		counter:          counter,
		maxContextTokens: maxContextTokens,
	}
}

// DecodeJSON reads the request body into dst. The Content-Type must be
// application/json; bodies cut short by http.MaxBytesReader yield 413.
func DecodeJSON(r *http.Request, requestID string, dst interface{}) *errors.CitegateError {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.NewValidationError(requestID, "Invalid or missing Content-Type header", map[string]interface{}{
			"errors": []ValidationErrorDetail{{
				Field:   "header:Content-Type",
				Message: "Content-Type must be application/json",
				Code:    "invalid_content_type",
				Value:   r.Header.Get("Content-Type"),
			}},
		})
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.NewError(errors.ValidationError, "Request body too large",
				http.StatusRequestEntityTooLarge, requestID,
				map[string]interface{}{"limit": tooLarge.Limit}, err)
		}
		if stderrors.Is(err, io.EOF) {
			err = fmt.Errorf("empty request body")
		}
		return errors.NewError(errors.ValidationError, "Invalid request format",
			http.StatusBadRequest, requestID,
			map[string]interface{}{
				"errors": []ValidationErrorDetail{{
					Field:   "body",
					Message: err.Error(),
					Code:    "invalid_json",
				}},
			}, err)
	}
	return nil
}

// Struct validates s against its validate tags.
func (v *Validator) Struct(requestID string, s interface{}) *errors.CitegateError {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.NewValidationError(requestID, "Request validation failed", map[string]interface{}{
			"errors": []ValidationErrorDetail{{Field: "body", Message: err.Error(), Code: "invalid"}},
		})
	}

	details := make([]ValidationErrorDetail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, ValidationErrorDetail{
			Field:   fieldPath(fe.Namespace()),
			Message: fieldMessage(fe),
			Code:    fe.Tag() + "_validation_failed",
		})
	}
	return errors.NewValidationError(requestID, "Request validation failed", map[string]interface{}{
		"errors": details,
	})
}

// CheckCitationTokens enforces the context budget on a citation request.
func (v *Validator) CheckCitationTokens(requestID string, req *processing.CitationRequest) *errors.CitegateError {
	if v.counter == nil {
		return nil
	}
	if err := v.counter.ValidateTokens(req, v.maxContextTokens); err != nil {
		return errors.NewError(errors.ValidationError, "Token limit exceeded",
			http.StatusRequestEntityTooLarge, requestID,
			map[string]interface{}{
				"tokens":             v.counter.CountCitationRequest(req),
				"max_context_tokens": v.maxContextTokens,
			}, err)
	}
	return nil
}

// fieldPath drops the root struct name: "CitationRequest.documents[0].text"
// becomes "documents[0].text".
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "min":
		return fmt.Sprintf("field '%s' must contain at least %s item(s)", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("field '%s' failed on '%s'", fe.Field(), fe.Tag())
	}
}
