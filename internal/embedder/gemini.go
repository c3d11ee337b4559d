package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/dshills/repoexplain/internal/retry"
)

// GeminiProvider implements Embedder using the Gemini API
type GeminiProvider struct {
	client   *genai.Client
	model    string
	cache    *Cache
	retryCfg retry.Config
}

// NewGeminiProvider creates a Gemini embedder
func NewGeminiProvider(ctx context.Context, apiKey, model string, cache *Cache) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrDependencyMissing, EnvGeminiAPIKey)
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gemini client: %v", ErrDependencyMissing, err)
	}

	return &GeminiProvider{
		client:   client,
		model:    model,
		cache:    cache,
		retryCfg: DefaultRetryConfig(),
	}, nil
}

func (g *GeminiProvider) GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := ValidateTexts(texts, MaxBatchSize); err != nil {
		return nil, err
	}

	out, missing := cachedBatch(g.cache, texts)
	if len(missing) == 0 {
		return out, nil
	}

	contents := make([]*genai.Content, len(missing))
	for i, idx := range missing {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: texts[idx]}}}
	}

	vectors, err := retry.Do(ctx, g.retryCfg, func() ([][]float32, error) {
		resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, nil)
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(contents) {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(contents))
		}
		vectors := make([][]float32, len(resp.Embeddings))
		for i, e := range resp.Embeddings {
			vectors[i] = e.Values
		}
		return vectors, nil
	})
	if err != nil {
		return nil, fmt.Errorf("gemini after %d attempts: %w", g.retryCfg.MaxAttempts, err)
	}

	for i, idx := range missing {
		emb := &Embedding{
			Vector:    vectors[i],
			Dimension: len(vectors[i]),
			Provider:  ProviderGemini,
			Model:     g.model,
			Hash:      ComputeHash(texts[idx]),
		}
		if g.cache != nil {
			g.cache.Set(emb.Hash, emb)
		}
		out[idx] = emb
	}
	return out, nil
}

func (g *GeminiProvider) Dimension() int {
	if dim, ok := knownDimensions[g.model]; ok {
		return dim
	}
	return 0
}

func (g *GeminiProvider) Provider() string {
	return ProviderGemini
}

func (g *GeminiProvider) Model() string {
	return g.model
}

func (g *GeminiProvider) Close() error {
	return nil
}
