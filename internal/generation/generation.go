// Package generation sends the assembled context and a question to a chat
// model and returns its answer.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Defaults for the hosted OpenAI-compatible backend
const (
	DefaultBaseURL     = "https://api.groq.com/openai"
	DefaultModel       = "llama-3.1-8b-instant"
	DefaultGeminiModel = "gemini-2.0-flash"

	DefaultTemperature = 0.3
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 400
	DefaultTimeout     = 120 * time.Second
)

var (
	// ErrEmptyResponse is returned when the backend answers without content
	ErrEmptyResponse = errors.New("model returned no choices")
	// ErrMissingAPIKey is returned when a backend that needs a key has none
	ErrMissingAPIKey = errors.New("api key is required")
)

// Generator produces an answer for question grounded in contextBlock
type Generator interface {
	Generate(ctx context.Context, contextBlock, question string) (string, error)
}

// Params are the sampling settings shared by every backend
type Params struct {
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// DefaultParams returns the default sampling settings for model
func DefaultParams(model string) Params {
	return Params{
		Model:       model,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		MaxTokens:   DefaultMaxTokens,
	}
}

// StatusError is a non-2xx response from an HTTP backend
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Transient reports whether the status is worth retrying (429 and 5xx)
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// isTransient is the retry predicate: only transient status errors retry
func isTransient(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Transient()
}

// Backend names accepted by New
const (
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
)

// Config selects and configures a generation backend
type Config struct {
	Backend      string
	BaseURL      string // OpenAI-compatible base, without /v1
	APIKey       string
	GeminiAPIKey string
	Params       Params
}

// New builds the configured Generator
func New(ctx context.Context, cfg Config, opts ...OpenAIOption) (Generator, error) {
	switch cfg.Backend {
	case "", BackendOpenAI:
		return NewOpenAICompatible(cfg.BaseURL, cfg.APIKey, cfg.Params, opts...), nil
	case BackendGemini:
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.Params)
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.Backend)
	}
}
