package embedder

import (
	"context"
	"fmt"
	"strings"
)

// Config holds embedder configuration shared by every model a Loader builds
type Config struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	JinaAPIKey    string
	GeminiAPIKey  string

	// CacheSize bounds the per-model in-memory LRU (0 disables it)
	CacheSize int

	// Persistent, when set, backs every model with an on-disk cache
	Persistent *BoltCache
}

// ParseModelID splits "provider:model". A bare "local" selects the local
// provider with its default model.
func ParseModelID(modelID string) (provider, model string, err error) {
	id := strings.TrimSpace(modelID)
	if strings.EqualFold(id, ProviderLocal) {
		return ProviderLocal, DefaultLocalModel, nil
	}

	provider, model, ok := strings.Cut(id, ":")
	provider = strings.ToLower(provider)
	if !ok {
		return "", "", unknownModel(modelID)
	}
	switch provider {
	case ProviderLocal, ProviderOpenAI, ProviderJina, ProviderGemini:
		return provider, model, nil
	default:
		return "", "", unknownModel(modelID)
	}
}

func unknownModel(modelID string) error {
	return fmt.Errorf("%w: no backend for model %q (use local:, openai:, jina: or gemini: model ids)",
		ErrDependencyMissing, modelID)
}

// New creates the embedder serving modelID
func New(ctx context.Context, modelID string, cfg Config) (Embedder, error) {
	provider, model, err := ParseModelID(modelID)
	if err != nil {
		return nil, err
	}

	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	var e Embedder
	switch provider {
	case ProviderLocal:
		e = NewLocalProvider(model, LocalDimension, cache)
	case ProviderOpenAI:
		e, err = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, model, cache)
	case ProviderJina:
		e, err = NewJinaProvider(cfg.JinaAPIKey, model, cache)
	case ProviderGemini:
		e, err = NewGeminiProvider(ctx, cfg.GeminiAPIKey, model, cache)
	}
	if err != nil {
		return nil, err
	}
	return WithPersistentCache(e, cfg.Persistent), nil
}

// NewLoader returns a Loader building embedders from cfg
func NewLoader(cfg Config) Loader {
	return func(ctx context.Context, modelID string) (Embedder, error) {
		return New(ctx, modelID, cfg)
	}
}
