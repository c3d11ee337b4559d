package generation

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dshills/repoexplain/internal/retry"
)

// Gemini generates answers with the Gemini API
type Gemini struct {
	client   *genai.Client
	params   Params
	retryCfg retry.Config
}

// NewGemini creates a Gemini generator
func NewGemini(ctx context.Context, apiKey string, params Params) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini", ErrMissingAPIKey)
	}
	if params.Model == "" {
		params.Model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	// genai reports transport errors, not StatusError, so retry everything
	cfg := DefaultRetryConfig()
	cfg.Retryable = nil
	return &Gemini{client: client, params: params, retryCfg: cfg}, nil
}

func (g *Gemini) Generate(ctx context.Context, contextBlock, question string) (string, error) {
	temperature := float32(g.params.Temperature)
	topP := float32(g.params.TopP)
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: SystemPrompt()}}},
		Temperature:       &temperature,
		TopP:              &topP,
		MaxOutputTokens:   int32(g.params.MaxTokens),
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: UserPrompt(contextBlock, question)}},
	}}

	text, err := retry.Do(ctx, g.retryCfg, func() (string, error) {
		resp, err := g.client.Models.GenerateContent(ctx, g.params.Model, contents, config)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
