package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/dshills/repoexplain/internal/retry"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultGeminiModel = "text-embedding-004"
	DefaultLocalModel  = "hashing"

	// Endpoints
	DefaultOpenAIBaseURL = "https://api.openai.com"
	DefaultJinaBaseURL   = "https://api.jina.ai"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	GeminiDimension = 768
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 64
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0

	// Environment variables consulted when no key is configured
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
)

var knownDimensions = map[string]int{
	"text-embedding-3-small":     OpenAIDimension,
	"text-embedding-3-large":     3072,
	"text-embedding-ada-002":     OpenAIDimension,
	"jina-embeddings-v3":         JinaDimension,
	"jina-embeddings-v2-base-en": 768,
	"text-embedding-004":         GeminiDimension,
}

// HTTPProvider implements Embedder against any endpoint speaking the
// OpenAI embeddings wire format (POST {base}/v1/embeddings). OpenAI, Jina and
// self-hosted OpenAI-compatible servers all use it.
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	cache      *Cache
	retryCfg   retry.Config

	mu        sync.Mutex
	dimension int
}

// NewOpenAIProvider creates an embedder for OpenAI or an OpenAI-compatible
// server. An API key is only required for the public OpenAI endpoint.
func NewOpenAIProvider(apiKey, baseURL, model string, cache *Cache) (*HTTPProvider, error) {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if apiKey == "" && baseURL == DefaultOpenAIBaseURL {
		return nil, fmt.Errorf("%w: %s not set", ErrDependencyMissing, EnvOpenAIAPIKey)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return newHTTPProvider(ProviderOpenAI, baseURL, apiKey, model, cache), nil
}

// NewJinaProvider creates a Jina AI embedder
func NewJinaProvider(apiKey, model string, cache *Cache) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrDependencyMissing, EnvJinaAPIKey)
	}
	if model == "" {
		model = DefaultJinaModel
	}
	return newHTTPProvider(ProviderJina, DefaultJinaBaseURL, apiKey, model, cache), nil
}

func newHTTPProvider(name, baseURL, apiKey, model string, cache *Cache) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: strings.TrimRight(baseURL, "/") + "/v1/embeddings",
		apiKey:   apiKey,
		model:    model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache:     cache,
		retryCfg:  DefaultRetryConfig(),
		dimension: knownDimensions[model],
	}
}

func (p *HTTPProvider) GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := ValidateTexts(texts, MaxBatchSize); err != nil {
		return nil, err
	}

	out, missing := cachedBatch(p.cache, texts)
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for i, idx := range missing {
		pending[i] = texts[idx]
	}

	embeddings, err := retry.Do(ctx, p.retryCfg, func() ([]*Embedding, error) {
		return p.callAPI(ctx, pending)
	})
	if err != nil {
		return nil, fmt.Errorf("%s after %d attempts: %w", p.name, p.retryCfg.MaxAttempts, err)
	}

	for i, idx := range missing {
		emb := embeddings[i]
		emb.Hash = ComputeHash(texts[idx])
		if p.cache != nil {
			p.cache.Set(emb.Hash, emb)
		}
		out[idx] = emb
	}
	return out, nil
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	body, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("api returned %d embeddings for %d texts", len(apiResp.Data), len(texts))
	}

	embeddings := make([]*Embedding, len(texts))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(texts) || embeddings[data.Index] != nil {
			return nil, fmt.Errorf("api returned invalid index %d", data.Index)
		}
		embeddings[data.Index] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.name,
			Model:     p.model,
		}
	}
	p.learnDimension(len(apiResp.Data[0].Embedding))
	return embeddings, nil
}

func (p *HTTPProvider) learnDimension(dim int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dimension == 0 {
		p.dimension = dim
	}
}

func (p *HTTPProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dimension
}

func (p *HTTPProvider) Provider() string {
	return p.name
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider embeds text offline with signed feature hashing over word
// tokens. Texts sharing vocabulary land close together under cosine
// distance, which is enough for retrieval without any model download.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a local embedder. dimension <= 0 uses LocalDimension.
func NewLocalProvider(model string, dimension int, cache *Cache) *LocalProvider {
	if model == "" {
		model = DefaultLocalModel
	}
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{
		model:     model,
		dimension: dimension,
		cache:     cache,
	}
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := ValidateTexts(texts, 0); err != nil {
		return nil, err
	}

	out, missing := cachedBatch(l.cache, texts)
	for _, idx := range missing {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb := &Embedding{
			Vector:    l.embed(texts[idx]),
			Dimension: l.dimension,
			Provider:  ProviderLocal,
			Model:     l.model,
			Hash:      ComputeHash(texts[idx]),
		}
		if l.cache != nil {
			l.cache.Set(emb.Hash, emb)
		}
		out[idx] = emb
	}
	return out, nil
}

func (l *LocalProvider) embed(text string) []float32 {
	vector := make([]float32, l.dimension)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vector[sum%uint64(l.dimension)] += sign
	}
	return NormalizeVector(vector)
}

// tokenize lowercases text and splits it on anything that is not a letter or digit
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// DefaultRetryConfig returns the backoff used by remote embedding providers
func DefaultRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: MaxRetries,
		BaseDelay:   time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:    time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier:  BackoffMultiplier,
	}
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
