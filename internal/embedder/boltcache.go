package embedder

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// BoltCache persists embeddings across runs, keyed by model and content
// hash. Re-ingesting unchanged chunks then skips the backend entirely.
type BoltCache struct {
	db *bbolt.DB
}

// OpenBoltCache opens (or creates) the cache file at path
func OpenBoltCache(path string) (*BoltCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &BoltCache{db: db}, nil
}

// Get returns the cached vectors for hashes; absent entries are nil
func (c *BoltCache) Get(model string, hashes []string) ([][]float32, error) {
	out := make([][]float32, len(hashes))
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(model))
		if b == nil {
			return nil
		}
		for i, hash := range hashes {
			if data := b.Get([]byte(hash)); data != nil {
				out[i] = decodeVector(data)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put stores vectors by hash under the model's bucket
func (c *BoltCache) Put(model string, hashes []string, vectors [][]float32) error {
	if len(hashes) != len(vectors) {
		return fmt.Errorf("%w: %d hashes for %d vectors", ErrInvalidInput, len(hashes), len(vectors))
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(model))
		if err != nil {
			return err
		}
		for i, hash := range hashes {
			if err := b.Put([]byte(hash), encodeVector(vectors[i])); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the cache file
func (c *BoltCache) Close() error {
	return c.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v
}

// persistentEmbedder consults a BoltCache before delegating misses
type persistentEmbedder struct {
	Embedder
	cache  *BoltCache
	bucket string
}

// WithPersistentCache wraps e so that vectors are read from and written to c.
// A nil cache returns e unchanged.
func WithPersistentCache(e Embedder, c *BoltCache) Embedder {
	if c == nil {
		return e
	}
	return &persistentEmbedder{
		Embedder: e,
		cache:    c,
		bucket:   e.Provider() + ":" + e.Model(),
	}
}

func (p *persistentEmbedder) GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	hashes := make([]string, len(texts))
	for i, text := range texts {
		hashes[i] = ComputeHash(text)
	}

	cached, err := p.cache.Get(p.bucket, hashes)
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}

	out := make([]*Embedding, len(texts))
	var missing []int
	for i, v := range cached {
		if v == nil {
			missing = append(missing, i)
			continue
		}
		out[i] = &Embedding{
			Vector:    v,
			Dimension: len(v),
			Provider:  p.Provider(),
			Model:     p.Model(),
			Hash:      hashes[i],
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for i, idx := range missing {
		pending[i] = texts[idx]
	}
	fresh, err := p.Embedder.GenerateBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(pending) {
		return nil, fmt.Errorf("%w: %d embeddings for %d texts", ErrEmbedding, len(fresh), len(pending))
	}

	freshHashes := make([]string, len(missing))
	freshVectors := make([][]float32, len(missing))
	for i, idx := range missing {
		out[idx] = fresh[i]
		freshHashes[i] = hashes[idx]
		freshVectors[i] = fresh[i].Vector
	}
	if err := p.cache.Put(p.bucket, freshHashes, freshVectors); err != nil {
		return nil, fmt.Errorf("write embedding cache: %w", err)
	}
	return out, nil
}
