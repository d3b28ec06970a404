// Package provider manages the LLM backends used for citation extraction:
// construction from config, per-provider circuit breakers, health checks,
// failover in preference order and request deduplication.
package provider

import (
	"context"
	"fmt"
	"strconv"

	"github.com/teilomillet/citegate/config"
	"github.com/teilomillet/citegate/server/gemini"
	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
)

// Generator produces a completion for a prompt. Every gollm.LLM satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt *gollm.Prompt, opts ...llm.GenerateOption) (string, error)
}

var (
	_ Generator = (gollm.LLM)(nil)
	_ Generator = (*gemini.Client)(nil)
	_ Generator = (*Manager)(nil)
)

// NewGenerator builds a Generator for one provider entry. The "gemini" type
// talks to the Gemini API through genai; every other type goes through gollm.
func NewGenerator(ctx context.Context, cfg config.ProviderConfig, options map[string]interface{}) (Generator, error) {
	if cfg.Type == "gemini" {
		gc := gemini.Config{
			APIKey:           cfg.APIKey,
			Model:            cfg.Model,
			Endpoint:         cfg.Endpoint,
			ResponseMIMEType: "application/json",
		}
		if t, ok := floatOption(options, "temperature"); ok {
			temp := float32(t)
			gc.Temperature = &temp
		}
		return gemini.New(ctx, gc)
	}

	opts := []gollm.ConfigOption{
		gollm.SetProvider(cfg.Type),
		gollm.SetModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(cfg.APIKey))
	}
	if t, ok := floatOption(options, "temperature"); ok {
		opts = append(opts, gollm.SetTemperature(t))
	}
	if n, ok := floatOption(options, "max_tokens"); ok {
		opts = append(opts, gollm.SetMaxTokens(int(n)))
	}

	g, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", cfg.Type, err)
	}
	if cfg.Endpoint != "" {
		g.SetEndpoint(cfg.Endpoint)
	}
	return g, nil
}

func floatOption(options map[string]interface{}, key string) (float64, bool) {
	v, ok := options[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
