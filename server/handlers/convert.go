package handlers

import (
	"net/http"

	"github.com/teilomillet/citegate/errors"
	"github.com/teilomillet/citegate/server/convert"
	"github.com/teilomillet/citegate/server/metrics"
	"github.com/teilomillet/citegate/server/middleware"
	"github.com/teilomillet/citegate/server/validation"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// ConvertResponse is the body returned by POST /v1/convert. System messages
// are folded into SystemInstruction, as genai expects.
type ConvertResponse struct {
	SystemInstruction *genai.Content   `json:"system_instruction,omitempty"`
	Contents          []*genai.Content `json:"contents"`
}

// ConvertHandler turns generic chat messages into genai contents.
type ConvertHandler struct {
	validator *validation.Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewConvertHandler creates a ConvertHandler. m may be nil.
func NewConvertHandler(v *validation.Validator, m *metrics.Metrics, logger *zap.Logger) *ConvertHandler {
	return &ConvertHandler{validator: v, metrics: m, logger: logger}
}

func (h *ConvertHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, requestID)
		return
	}
	logger := h.logger.With(zap.String("request_id", requestID))

	var req validation.ConvertRequest
	if err := validation.DecodeJSON(r, requestID, &req); err != nil {
		// Message-level decode failures (bad roles, content shapes) are
		// conversion problems, not malformed JSON.
		if errors.Is(err, convert.ErrInvalidMessageType) || errors.Is(err, convert.ErrInvalidContent) {
			err = errors.NewConversionError(requestID, err.Unwrap().Error(), err.Unwrap())
		}
		errors.LogError(logger, err, requestID)
		errors.WriteError(w, err)
		return
	}
	if err := h.validator.Struct(requestID, &req); err != nil {
		errors.WriteError(w, err)
		return
	}

	system, rest, err := convert.SplitSystem(req.Messages)
	if err == nil {
		var contents []*genai.Content
		contents, err = convert.MessagesToContents(rest)
		if err == nil {
			if h.metrics != nil {
				h.metrics.ConvertedMessages.Add(float64(len(req.Messages)))
			}
			logger.Debug("Converted messages",
				zap.Int("messages", len(req.Messages)),
				zap.Int("contents", len(contents)),
				zap.Bool("system_instruction", system != nil),
			)
			writeJSON(w, logger, http.StatusOK, ConvertResponse{SystemInstruction: system, Contents: contents})
			return
		}
	}

	cerr := errors.NewConversionError(requestID, err.Error(), err)
	errors.LogError(logger, cerr, requestID)
	errors.WriteError(w, cerr)
}
