// Package processing annotates an answer with citations into the documents it
// was generated from. The answer is split into sentences, a model is asked
// which document passages support which sentence, and every returned quote
// is checked against its document before it is attached to the answer.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/template"
	"time"

	"github.com/teilomillet/citegate/config"
	"github.com/teilomillet/citegate/server/cache"
	"github.com/teilomillet/citegate/server/provider"
	"go.uber.org/zap"
)

// ErrInvalidRequest wraps every problem with the request itself.
var ErrInvalidRequest = errors.New("invalid citation request")

// Processor runs the citation pipeline.
type Processor struct {
	llm          provider.Generator
	tmpl         *template.Template
	templateSrc  string
	systemPrompt string
	config       config.ProcessingConfig
	cache        cache.Cache
	cacheTTL     time.Duration
	logger       *zap.Logger
}

// Option customizes a Processor.
type Option func(*Processor)

// WithCache stores results in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(p *Processor) {
		p.cache = c
		p.cacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a processor that sends citation prompts to llm.
func NewProcessor(cfg config.ProcessingConfig, llm provider.Generator, opts ...Option) (*Processor, error) {
	if llm == nil {
		return nil, fmt.Errorf("llm cannot be nil")
	}

	tmpl, err := parseTemplate(cfg.CitationTemplate)
	if err != nil {
		return nil, err
	}

	p := &Processor{
		llm:          llm,
		tmpl:         tmpl,
		templateSrc:  cfg.CitationTemplate,
		systemPrompt: cfg.SystemPrompt,
		config:       cfg,
		logger:       zap.NewNop(),
	}
	if p.systemPrompt == "" {
		p.systemPrompt = DefaultSystemPrompt
	}
	if p.templateSrc == "" {
		p.templateSrc = DefaultCitationTemplate
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Cite annotates req.Answer with citations into req.Documents.
func (p *Processor) Cite(ctx context.Context, req *CitationRequest) (*CitationResponse, error) {
	if err := p.checkRequest(req); err != nil {
		return nil, err
	}

	sentences := SplitSentences(req.Answer)
	if len(sentences) == 0 {
		return &CitationResponse{Text: req.Answer, Content: []CitedSentence{}}, nil
	}
	if p.config.MaxSentences > 0 && len(sentences) > p.config.MaxSentences {
		return nil, fmt.Errorf("%w: answer has %d sentences, limit is %d",
			ErrInvalidRequest, len(sentences), p.config.MaxSentences)
	}

	key := p.cacheKey(req)
	if resp, ok := p.lookup(ctx, key); ok {
		return resp, nil
	}

	prompt, err := buildPrompt(p.tmpl, p.systemPrompt, sentences, req.Documents)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	reply, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("LLM processing failed: %w", err)
	}

	citations, err := parseCitations(reply, p.config.ResponseFormatting.CleanJSON)
	if err != nil {
		p.logger.Warn("Unparseable citation output", zap.Error(err))
		return nil, err
	}

	located, rejected := validateCitations(citations, len(sentences), req.Documents)

	resp := &CitationResponse{
		Text:     req.Answer,
		Content:  make([]CitedSentence, len(sentences)),
		Rejected: rejected,
	}
	for i, s := range sentences {
		cs := located[i]
		if cs == nil {
			cs = []CharLocation{}
		}
		resp.Content[i] = CitedSentence{Type: TextBlockType, Text: s, Citations: cs}
	}

	p.logger.Debug("Citations extracted",
		zap.Int("sentences", len(sentences)),
		zap.Int("documents", len(req.Documents)),
		zap.Int("returned", len(citations)),
		zap.Int("rejected", len(rejected)),
		zap.Duration("llm_latency", time.Since(start)),
	)

	p.store(ctx, key, resp)
	return resp, nil
}

func (p *Processor) checkRequest(req *CitationRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request cannot be nil", ErrInvalidRequest)
	}
	if p.config.MaxDocuments > 0 && len(req.Documents) > p.config.MaxDocuments {
		return fmt.Errorf("%w: %d documents, limit is %d",
			ErrInvalidRequest, len(req.Documents), p.config.MaxDocuments)
	}
	keys := make(map[string]bool, len(req.Documents))
	for i, d := range req.Documents {
		if d.Key == "" {
			return fmt.Errorf("%w: document %d has no key", ErrInvalidRequest, i)
		}
		if keys[d.Key] {
			return fmt.Errorf("%w: duplicate document key %q", ErrInvalidRequest, d.Key)
		}
		keys[d.Key] = true
	}
	return nil
}

func (p *Processor) cacheKey(req *CitationRequest) string {
	parts := []string{p.systemPrompt, p.templateSrc, req.Answer, strconv.Itoa(len(req.Documents))}
	for _, d := range req.Documents {
		parts = append(parts, d.Key, d.Title, d.Text)
	}
	return cache.Key(parts...)
}

func (p *Processor) lookup(ctx context.Context, key string) (*CitationResponse, bool) {
	if p.cache == nil {
		return nil, false
	}
	data, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn("Citation cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var resp CitationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		p.logger.Warn("Discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	resp.Cached = true
	return &resp, true
}

func (p *Processor) store(ctx context.Context, key string, resp *CitationResponse) {
	if p.cache == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		p.logger.Warn("Failed to encode citation response for cache", zap.Error(err))
		return
	}
	if err := p.cache.Set(ctx, key, data, p.cacheTTL); err != nil {
		p.logger.Warn("Citation cache write failed", zap.Error(err))
	}
}
