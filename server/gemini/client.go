// Package gemini implements a Generator backed by the Google generative AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/teilomillet/citegate/server/convert"
	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
	"google.golang.org/genai"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("gemini returned no text")

// Config configures a Client.
type Config struct {
	APIKey string
	Model  string

	// Endpoint overrides the API base URL.
	Endpoint string

	// Temperature is sent with every request when set.
	Temperature *float32

	// ResponseMIMEType asks the model for a specific output format, e.g. "application/json".
	ResponseMIMEType string

	HTTPClient *http.Client
}

// Client sends gollm prompts to Gemini through genai.
type Client struct {
	models *genai.Models
	model  string
	cfg    Config
}

// New creates a Gemini API client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions.BaseURL = cfg.Endpoint
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Client{models: client.Models, model: cfg.Model, cfg: cfg}, nil
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Generate converts prompt messages to genai contents, sends them and
// returns the response text. gollm generate options do not apply to this
// backend and are ignored.
func (c *Client) Generate(ctx context.Context, prompt *gollm.Prompt, _ ...llm.GenerateOption) (string, error) {
	system, contents, err := convert.FromPrompt(prompt)
	if err != nil {
		return "", fmt.Errorf("convert prompt: %w", err)
	}

	resp, err := c.GenerateContents(ctx, system, contents)
	if err != nil {
		return "", err
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// GenerateContents sends already converted contents with an optional system instruction.
func (c *Client) GenerateContents(ctx context.Context, system *genai.Content, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	if len(contents) == 0 {
		return nil, fmt.Errorf("no contents to send")
	}

	gc := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       c.cfg.Temperature,
		ResponseMIMEType:  c.cfg.ResponseMIMEType,
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, gc)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	return resp, nil
}
