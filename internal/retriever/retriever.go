package retriever

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/repoexplain/internal/storage"
	"github.com/dshills/repoexplain/pkg/types"
)

// DefaultK is the number of results returned when Request.K is unset
const DefaultK = 5

// ErrEmptyQuery is returned for an empty or whitespace-only query
var ErrEmptyQuery = errors.New("query text is empty")

// TextEmbedder turns texts into vectors. *embedder.Adapter satisfies it.
type TextEmbedder interface {
	Embed(ctx context.Context, texts []string, modelID string) ([][]float32, error)
}

// Request describes one top-k lookup
type Request struct {
	Location   string
	Collection string
	Query      string
	ModelID    string // must match the model the collection was built with
	K          int
	Where      *storage.Where
}

// Retriever embeds queries and searches a collection
type Retriever struct {
	embed  TextEmbedder
	open   storage.Opener
	logger *zap.Logger

	// query vectors keyed by sha256(model id + query)
	vectors *lru.Cache[[32]byte, []float32]
}

// New creates a Retriever. cacheSize <= 0 disables the query vector cache.
func New(embed TextEmbedder, open storage.Opener, cacheSize int, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retriever{embed: embed, open: open, logger: logger}
	if cacheSize > 0 {
		cache, err := lru.New[[32]byte, []float32](cacheSize)
		if err != nil {
			panic(fmt.Sprintf("failed to create LRU cache: %v", err))
		}
		r.vectors = cache
	}
	return r
}

// Query returns up to K results ordered by ascending distance, as ranked by
// the store. A missing collection is an error, not an empty result.
// Surrounding whitespace in the query is ignored.
func (r *Retriever) Query(ctx context.Context, req Request) ([]types.RetrievalResult, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	if req.K <= 0 {
		req.K = DefaultK
	}

	store, err := r.open(ctx, req.Location)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	coll, err := store.GetCollection(ctx, req.Collection)
	if err != nil {
		return nil, err
	}

	vector, err := r.queryVector(ctx, req.Query, req.ModelID)
	if err != nil {
		return nil, err
	}

	matches, err := coll.Query(ctx, vector, req.K, req.Where)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]types.RetrievalResult, len(matches))
	for i, m := range matches {
		d := m.Distance
		results[i] = types.RetrievalResult{
			ID:       m.ID,
			Document: m.Document,
			Metadata: m.Metadata,
			Distance: &d,
		}
	}

	r.logger.Debug("retrieved",
		zap.String("collection", req.Collection),
		zap.Int("k", req.K),
		zap.Int("results", len(results)))
	return results, nil
}

func (r *Retriever) queryVector(ctx context.Context, query, modelID string) ([]float32, error) {
	var key [32]byte
	if r.vectors != nil {
		key = sha256.Sum256([]byte(modelID + "\x00" + query))
		if v, ok := r.vectors.Get(key); ok {
			return v, nil
		}
	}

	vecs, err := r.embed.Embed(ctx, []string{query}, modelID)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 query embedding, got %d", len(vecs))
	}

	if r.vectors != nil {
		r.vectors.Add(key, vecs[0])
	}
	return vecs[0], nil
}
