package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/repoexplain/internal/retry"
)

const maxErrorBody = 500

// OpenAICompatible calls POST {base}/v1/chat/completions. It works with
// hosted providers (Groq, OpenAI) and local servers exposing the same API.
type OpenAICompatible struct {
	endpoint   string
	apiKey     string
	params     Params
	httpClient *http.Client
	retryCfg   retry.Config
	logger     *zap.Logger
}

// OpenAIOption customizes an OpenAICompatible client
type OpenAIOption func(*OpenAICompatible)

// WithHTTPClient replaces the default client (timeout DefaultTimeout)
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAICompatible) { o.httpClient = c }
}

// WithRetry replaces the retry policy. The Retryable predicate is kept.
func WithRetry(cfg retry.Config) OpenAIOption {
	return func(o *OpenAICompatible) {
		cfg.Retryable = isTransient
		o.retryCfg = cfg
	}
}

// WithLogger sets the logger used for retry diagnostics
func WithLogger(l *zap.Logger) OpenAIOption {
	return func(o *OpenAICompatible) { o.logger = l }
}

// DefaultRetryConfig allows 3 attempts with 1s then 2s between them,
// retrying only 429 and 5xx responses
func DefaultRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Retryable:   isTransient,
	}
}

// NewOpenAICompatible creates a client for baseURL (without the /v1 suffix).
// apiKey may be empty for local servers.
func NewOpenAICompatible(baseURL, apiKey string, params Params, opts ...OpenAIOption) *OpenAICompatible {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if params.Model == "" {
		params.Model = DefaultModel
	}
	o := &OpenAICompatible{
		endpoint:   strings.TrimRight(baseURL, "/") + "/v1/chat/completions",
		apiKey:     apiKey,
		params:     params,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		retryCfg:   DefaultRetryConfig(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAICompatible) Generate(ctx context.Context, contextBlock, question string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: o.params.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt()},
			{Role: "user", Content: UserPrompt(contextBlock, question)},
		},
		Temperature: o.params.Temperature,
		TopP:        o.params.TopP,
		MaxTokens:   o.params.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	attempt := 0
	out, err := retry.Do(ctx, o.retryCfg, func() (*chatResponse, error) {
		attempt++
		resp, err := o.post(ctx, body)
		if err != nil {
			o.logger.Debug("chat completion failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed after %d attempt(s): %w", attempt, err)
	}

	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (o *OpenAICompatible) post(ctx context.Context, body []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "repoexplain/1.0")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: o.endpoint, Body: strings.TrimSpace(string(b))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
