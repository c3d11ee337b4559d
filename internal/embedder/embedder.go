package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyText     = errors.New("text cannot be empty")
	ErrBatchTooLarge = errors.New("batch size exceeds limit")

	// ErrDependencyMissing means no backend can serve the requested model,
	// either because the model family is unknown or its credentials are absent
	ErrDependencyMissing = errors.New("embedding backend unavailable")

	// ErrEmbedding means the backend failed to embed a batch
	ErrEmbedding = errors.New("embedding failed")
)

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // Content hash for caching
}

// Embedder turns texts into vectors with a single model
type Embedder interface {
	// GenerateBatch returns one embedding per text, in input order
	GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error)

	// Dimension returns the embedding dimension, or 0 if not yet known
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](10000)
	}
	return &Cache{
		cache: cache,
	}
}

// Get retrieves a deep copy of an embedding from cache
// Returns a copy to prevent caller mutations from affecting cached values
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	return copyEmbedding(emb), true
}

// Set stores an embedding in cache with automatic LRU eviction
func (c *Cache) Set(hash string, emb *Embedding) {
	c.cache.Add(hash, copyEmbedding(emb))
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

func copyEmbedding(emb *Embedding) *Embedding {
	vectorCopy := make([]float32, len(emb.Vector))
	copy(vectorCopy, emb.Vector)
	return &Embedding{
		Vector:    vectorCopy,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateTexts checks a batch before it is sent to a provider
func ValidateTexts(texts []string, maxBatch int) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	if maxBatch > 0 && len(texts) > maxBatch {
		return fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, maxBatch)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d", ErrEmptyText, i)
		}
	}
	return nil
}

// cachedBatch splits texts into cache hits and misses. hits has one slot per
// text; missing slots are nil and their indexes are returned in order.
func cachedBatch(cache *Cache, texts []string) (hits []*Embedding, missing []int) {
	hits = make([]*Embedding, len(texts))
	for i, text := range texts {
		if cache != nil {
			if emb, ok := cache.Get(ComputeHash(text)); ok {
				hits[i] = emb
				continue
			}
		}
		missing = append(missing, i)
	}
	return hits, missing
}
