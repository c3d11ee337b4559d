package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Loader builds the embedder serving a model id
type Loader func(ctx context.Context, modelID string) (Embedder, error)

// ModelCache holds loaded embedders keyed by model id. It is created by
// the caller for one session (a CLI command or a server lifetime) and closed
// at its end; nothing is cached at package level.
type ModelCache struct {
	mu     sync.Mutex
	loader Loader
	models map[string]Embedder
}

// NewModelCache creates an empty cache that loads models with loader
func NewModelCache(loader Loader) *ModelCache {
	return &ModelCache{
		loader: loader,
		models: make(map[string]Embedder),
	}
}

// Get returns the embedder for modelID, loading it on first use
func (c *ModelCache) Get(ctx context.Context, modelID string) (Embedder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.models[modelID]; ok {
		return e, nil
	}
	e, err := c.loader(ctx, modelID)
	if err != nil {
		return nil, err
	}
	c.models[modelID] = e
	return e, nil
}

// Len returns the number of loaded models
func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.models)
}

// Close closes every loaded embedder and empties the cache
func (c *ModelCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for id, e := range c.models {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	c.models = make(map[string]Embedder)
	return errors.Join(errs...)
}

// Adapter is the single entry point used by the indexer and retriever to
// turn texts into vectors.
type Adapter struct {
	models    *ModelCache
	batchSize int
}

// NewAdapter creates an adapter over models. batchSize <= 0 uses
// DefaultBatchSize; batching never changes the result.
func NewAdapter(models *ModelCache, batchSize int) *Adapter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	return &Adapter{models: models, batchSize: batchSize}
}

// Embed returns one vector per text, in input order. Failures are
// ErrDependencyMissing when the model cannot be loaded and ErrEmbedding when
// a batch fails; no partial result is ever returned.
func (a *Adapter) Embed(ctx context.Context, texts []string, modelID string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e, err := a.models.Get(ctx, modelID)
	if err != nil {
		if errors.Is(err, ErrDependencyMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load %s: %v", ErrDependencyMissing, modelID, err)
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += a.batchSize {
		end := min(start+a.batchSize, len(texts))
		batch, err := e.GenerateBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: texts %d-%d: %w", ErrEmbedding, start, end-1, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbedding, len(batch), end-start)
		}
		for _, emb := range batch {
			vectors = append(vectors, emb.Vector)
		}
	}
	return vectors, nil
}

// Dimension returns the vector length of modelID, or 0 when the model cannot
// be loaded or does not know it before the first call.
func (a *Adapter) Dimension(ctx context.Context, modelID string) int {
	e, err := a.models.Get(ctx, modelID)
	if err != nil {
		return 0
	}
	return e.Dimension()
}
