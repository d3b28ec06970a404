package mocks

import (
	"context"
	"sync/atomic"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
	"github.com/teilomillet/gollm/utils"
)

// MockLLM simulates a gollm.LLM without network calls. It satisfies
// provider.Generator, so it can back the citation processor and the
// provider manager in tests.
//
//	mockLLM := NewMockLLM(func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
//	    return `[{"sentence_index":0,"key":"doc-1","cited_text":"grass is green"}]`, nil
//	})
type MockLLM struct {
	GenerateFunc func(context.Context, *gollm.Prompt) (string, error)
	DebugFunc    func(string, ...interface{})
	Provider     string
	Model        string

	calls atomic.Int64
}

// NewMockLLM creates a new MockLLM with optional generate function.
// If generateFunc is nil, Generate will return empty string with no error.
func NewMockLLM(generateFunc func(context.Context, *gollm.Prompt) (string, error)) *MockLLM {
	return &MockLLM{
		GenerateFunc: generateFunc,
		Provider:     "mock",
		Model:        "mock-model",
	}
}

// NewMockLLMWithConfig creates a new MockLLM with specific provider and model names
func NewMockLLMWithConfig(provider, model string, generateFunc func(context.Context, *gollm.Prompt) (string, error)) *MockLLM {
	return &MockLLM{
		GenerateFunc: generateFunc,
		Provider:     provider,
		Model:        model,
	}
}

// NewStaticLLM returns a mock that always answers with reply.
func NewStaticLLM(reply string) *MockLLM {
	return NewMockLLM(func(context.Context, *gollm.Prompt) (string, error) {
		return reply, nil
	})
}

// Calls returns how many times Generate or GenerateWithSchema ran.
func (m *MockLLM) Calls() int {
	return int(m.calls.Load())
}

// Generate delegates to GenerateFunc. Options are ignored.
func (m *MockLLM) Generate(ctx context.Context, prompt *gollm.Prompt, opts ...llm.GenerateOption) (string, error) {
	m.calls.Add(1)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "", nil
}

func (m *MockLLM) Debug(format string, args ...interface{}) {
	if m.DebugFunc != nil {
		m.DebugFunc(format, args...)
	}
}

func (m *MockLLM) GetPromptJSONSchema(opts ...gollm.SchemaOption) ([]byte, error) {
	return []byte(`{}`), nil
}

func (m *MockLLM) GetProvider() string {
	return m.Provider
}

func (m *MockLLM) GetModel() string {
	return m.Model
}

func (m *MockLLM) GetLogLevel() gollm.LogLevel {
	return gollm.LogLevelInfo
}

func (m *MockLLM) UpdateLogLevel(level gollm.LogLevel) {}

func (m *MockLLM) SetLogLevel(level gollm.LogLevel) {}

// GetLogger returns nil; nothing in the tests logs through gollm.
func (m *MockLLM) GetLogger() utils.Logger {
	return nil
}

func (m *MockLLM) NewPrompt(text string) *gollm.Prompt {
	return &gollm.Prompt{
		Messages: []gollm.PromptMessage{
			{Role: "user", Content: text},
		},
	}
}

func (m *MockLLM) SetEndpoint(endpoint string) {}

func (m *MockLLM) SetOption(key string, value interface{}) {}

func (m *MockLLM) SupportsJSONSchema() bool {
	return true
}

// GenerateWithSchema behaves like Generate; the schema is not enforced.
func (m *MockLLM) GenerateWithSchema(ctx context.Context, prompt *gollm.Prompt, schema interface{}, opts ...llm.GenerateOption) (string, error) {
	return m.Generate(ctx, prompt, opts...)
}

func (m *MockLLM) SetOllamaEndpoint(endpoint string) error {
	return nil
}

func (m *MockLLM) SetSystemPrompt(prompt string, cacheType llm.CacheType) {}
