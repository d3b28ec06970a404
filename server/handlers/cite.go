package handlers

import (
	"context"
	"net/http"

	"github.com/teilomillet/citegate/errors"
	"github.com/teilomillet/citegate/server/circuitbreaker"
	"github.com/teilomillet/citegate/server/metrics"
	"github.com/teilomillet/citegate/server/middleware"
	"github.com/teilomillet/citegate/server/processing"
	"github.com/teilomillet/citegate/server/provider"
	"github.com/teilomillet/citegate/server/validation"
	"go.uber.org/zap"
)

// Citer is the part of processing.Processor the handler needs.
type Citer interface {
	Cite(ctx context.Context, req *processing.CitationRequest) (*processing.CitationResponse, error)
}

var _ Citer = (*processing.Processor)(nil)

// CiteHandler annotates an answer with citations into its source documents.
type CiteHandler struct {
	citer     Citer
	validator *validation.Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewCiteHandler creates a CiteHandler. m may be nil.
func NewCiteHandler(citer Citer, v *validation.Validator, m *metrics.Metrics, logger *zap.Logger) *CiteHandler {
	return &CiteHandler{citer: citer, validator: v, metrics: m, logger: logger}
}

func (h *CiteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, requestID)
		return
	}
	logger := h.logger.With(zap.String("request_id", requestID))

	var req processing.CitationRequest
	if err := validation.DecodeJSON(r, requestID, &req); err != nil {
		errors.WriteError(w, err)
		return
	}
	if err := h.validator.Struct(requestID, &req); err != nil {
		errors.WriteError(w, err)
		return
	}
	if err := h.validator.CheckCitationTokens(requestID, &req); err != nil {
		logger.Warn("Citation request over token budget", zap.Any("details", err.Details))
		errors.WriteError(w, err)
		return
	}

	resp, err := h.citer.Cite(r.Context(), &req)
	if err != nil {
		cerr := citeError(requestID, err)
		errors.LogError(logger, cerr, requestID)
		errors.WriteError(w, cerr)
		return
	}

	h.record(resp)
	logger.Info("Citations attached",
		zap.Int("sentences", len(resp.Content)),
		zap.Int("citations", len(resp.Citations())),
		zap.Int("rejected", len(resp.Rejected)),
		zap.Bool("cached", resp.Cached),
	)
	writeJSON(w, logger, http.StatusOK, resp)
}

func (h *CiteHandler) record(resp *processing.CitationResponse) {
	if h.metrics == nil {
		return
	}
	result := "miss"
	if resp.Cached {
		result = "hit"
	}
	h.metrics.CacheLookups.WithLabelValues(result).Inc()
	if resp.Cached {
		return
	}
	h.metrics.CitationsTotal.WithLabelValues("accepted").Add(float64(len(resp.Citations())))
	h.metrics.CitationsTotal.WithLabelValues("rejected").Add(float64(len(resp.Rejected)))
}

// citeError maps pipeline errors onto API errors.
func citeError(requestID string, err error) *errors.CitegateError {
	switch {
	case errors.Is(err, processing.ErrInvalidRequest):
		return errors.NewValidationError(requestID, err.Error(), nil)
	case errors.Is(err, processing.ErrInvalidModelOutput):
		return errors.NewCitationError(requestID, "Model returned unusable citation output", err)
	case errors.Is(err, context.DeadlineExceeded):
		return errors.NewError(errors.ProviderError, "Citation model timed out",
			http.StatusGatewayTimeout, requestID, nil, err)
	case errors.Is(err, provider.ErrNoHealthyProvider), errors.Is(err, provider.ErrNoProviders),
		circuitbreaker.IsRejected(err):
		return errors.NewError(errors.ProviderError, "No citation model available",
			http.StatusServiceUnavailable, requestID, nil, err)
	default:
		return errors.NewProviderError(requestID, "Citation model request failed", err)
	}
}
