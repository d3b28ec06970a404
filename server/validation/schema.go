package validation

import (
	"errors"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"github.com/teilomillet/citegate/server/convert"
	"github.com/teilomillet/citegate/server/processing"
	"go.uber.org/zap"
)

// ErrTokenLimitExceeded is returned when a request does not fit the model context.
var ErrTokenLimitExceeded = errors.New("token limit exceeded")

// fallbackEncoding is used for models tiktoken does not know, which includes
// every Gemini model. Counts are an approximation either way.
const fallbackEncoding = "cl100k_base"

// ConvertRequest is the body of POST /v1/convert.
type ConvertRequest struct {
	Messages []convert.Message `json:"messages" validate:"required,min=1,dive"`
}

// ValidationErrorDetail describes one failed field.
type ValidationErrorDetail struct {
	Field   string `json:"field"`           // The field that failed validation
	Message string `json:"message"`         // Human-readable error message
	Code    string `json:"code"`            // Machine-readable error code
	Value   string `json:"value,omitempty"` // The invalid value (if safe to return)
}

// Tokenizer defines the interface for token counting
type Tokenizer interface {
	CountTokens(text string) int
}

// tiktokenWrapper wraps tiktoken to implement our Tokenizer interface
type tiktokenWrapper struct {
	*tiktoken.Tiktoken
}

func (t *tiktokenWrapper) CountTokens(text string) int {
	return len(t.Encode(text, nil, nil))
}

// HeuristicTokenizer estimates one token per four characters. It is used
// when no BPE encoding can be loaded.
type HeuristicTokenizer struct{}

func (HeuristicTokenizer) CountTokens(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

// TokenCounter handles token counting for citation requests
type TokenCounter struct {
	encoding Tokenizer
}

// NewTokenCounter creates a token counter for model, falling back to the
// cl100k_base encoding for models tiktoken does not recognise.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding for model %s: %w", model, err)
		}
	}
	return &TokenCounter{encoding: &tiktokenWrapper{encoding}}, nil
}

// NewTokenCounterWithFallback is NewTokenCounter, except that a failure to
// load an encoding (typically no network access to fetch the BPE ranks) is
// logged and the heuristic tokenizer is used instead.
func NewTokenCounterWithFallback(model string, logger *zap.Logger) *TokenCounter {
	tc, err := NewTokenCounter(model)
	if err != nil {
		logger.Warn("tiktoken unavailable, estimating token counts",
			zap.String("model", model),
			zap.Error(err),
		)
		return NewTokenCounterFromTokenizer(HeuristicTokenizer{})
	}
	return tc
}

// NewTokenCounterFromTokenizer wraps an arbitrary tokenizer.
func NewTokenCounterFromTokenizer(t Tokenizer) *TokenCounter {
	return &TokenCounter{encoding: t}
}

// CountText counts the tokens of a single string.
func (tc *TokenCounter) CountText(text string) int {
	return tc.encoding.CountTokens(text)
}

// CountCitationRequest counts the answer and every document title and text,
// which is what ends up in the citation prompt.
func (tc *TokenCounter) CountCitationRequest(req *processing.CitationRequest) int {
	total := tc.CountText(req.Answer)
	for _, doc := range req.Documents {
		total += tc.CountText(doc.Title)
		total += tc.CountText(doc.Text)
	}
	return total
}

// ValidateTokens checks that req fits in maxContextTokens. A non-positive
// limit disables the check.
func (tc *TokenCounter) ValidateTokens(req *processing.CitationRequest, maxContextTokens int) error {
	if maxContextTokens <= 0 {
		return nil
	}

	totalTokens := tc.CountCitationRequest(req)
	if totalTokens > maxContextTokens {
		return fmt.Errorf("%w: total tokens (%d) exceeds max context length (%d)",
			ErrTokenLimitExceeded, totalTokens, maxContextTokens)
	}
	return nil
}
