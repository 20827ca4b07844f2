package xai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"autoreply/internal/domain"
)

const (
	DefaultBaseURL = "https://api.x.ai/v1"
	DefaultModel   = "grok-2"
)

// Config configures the xAI chat-completions generator.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

// Generator calls the xAI Grok models through their OpenAI-compatible API.
type Generator struct {
	llm         *openai.LLM
	model       string
	temperature float64
}

// New creates a generator. An empty API key is a configuration error.
func New(cfg Config) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("xai: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	llm, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithBaseURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("xai: %w", err)
	}
	return &Generator{llm: llm, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// Model returns the configured model name.
func (g *Generator) Model() string { return g.model }

// Generate sends one system and one user message and returns the trimmed reply.
func (g *Generator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, userPrompt),
	}
	resp, err := g.llm.GenerateContent(ctx, messages, llms.WithTemperature(g.temperature))
	if err != nil {
		return "", domain.GenerationError("xai.generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.GenerationError("xai.generate", fmt.Errorf("no choices returned"))
	}
	answer := strings.TrimSpace(resp.Choices[0].Content)
	if answer == "" {
		return "", domain.GenerationError("xai.generate", fmt.Errorf("empty reply"))
	}
	return answer, nil
}
