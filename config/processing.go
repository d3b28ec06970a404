package config

import (
	"fmt"
	"text/template"
)

// ProcessingConfig defines how citation requests are rendered and how model
// replies are interpreted.
type ProcessingConfig struct {
	// CitationTemplate overrides the built-in citation prompt template.
	// It is a text/template receiving .Sentences and .Documents.
	CitationTemplate string `yaml:"citation_template"`

	// SystemPrompt overrides the built-in system instruction
	SystemPrompt string `yaml:"system_prompt"`

	// ResponseFormatting configures how model replies are cleaned before decoding
	ResponseFormatting ResponseFormattingConfig `yaml:"response_formatting"`

	// MaxSentences limits the number of answer sentences per request (0 = unlimited)
	MaxSentences int `yaml:"max_sentences"`

	// MaxDocuments limits the number of documents per request (0 = unlimited)
	MaxDocuments int `yaml:"max_documents"`
}

// ResponseFormattingConfig defines response formatting options
type ResponseFormattingConfig struct {
	// CleanJSON strips markdown fences and surrounding prose using gollm
	CleanJSON bool `yaml:"clean_json"`
}

// DefaultProcessingConfig returns processing defaults: built-in prompts,
// JSON cleaning on, and generous limits.
func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		ResponseFormatting: ResponseFormattingConfig{CleanJSON: true},
		MaxSentences:       500,
		MaxDocuments:       100,
	}
}

// Validate checks limits and that a custom template parses.
func (p ProcessingConfig) Validate() error {
	if p.MaxSentences < 0 {
		return fmt.Errorf("negative max sentences: %d", p.MaxSentences)
	}
	if p.MaxDocuments < 0 {
		return fmt.Errorf("negative max documents: %d", p.MaxDocuments)
	}
	if p.CitationTemplate != "" {
		if _, err := template.New("citation").Parse(p.CitationTemplate); err != nil {
			return fmt.Errorf("invalid citation template: %w", err)
		}
	}
	return nil
}
