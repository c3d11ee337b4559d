package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/repoexplain/pkg/types"
)

// MemoryStore is a process-local Store. It backs the fallback path when the
// persistent store cannot be opened, and is handy in tests.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (s *MemoryStore) GetOrCreateCollection(ctx context.Context, name string, dimension int) (Collection, error) {
	if name == "" {
		return nil, ErrInvalidCollection
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = &memoryCollection{name: name, records: make(map[string]Record)}
		if dimension > 0 {
			c.dimension = dimension
		}
		s.collections[name] = c
		return c, nil
	}

	c.mu.RLock()
	dim := c.dimension
	c.mu.RUnlock()
	if dimension > 0 && dim != 0 && dim != dimension {
		return nil, fmt.Errorf("%w: collection %s has %d dims, requested %d", ErrDimensionMismatch, name, dim, dimension)
	}
	return c, nil
}

func (s *MemoryStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (s *MemoryStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]CollectionInfo, 0, len(s.collections))
	for _, c := range s.collections {
		c.mu.RLock()
		infos = append(infos, CollectionInfo{Name: c.name, Dimension: c.dimension, Count: len(c.records)})
		c.mu.RUnlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *MemoryStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

// Close is a no-op; the store is shared by every open of the memory backend
func (s *MemoryStore) Close() error {
	return nil
}

type memoryCollection struct {
	mu        sync.RWMutex
	name      string
	dimension int
	records   map[string]Record
}

func (c *memoryCollection) Name() string {
	return c.name
}

func (c *memoryCollection) Upsert(ctx context.Context, ids, documents []string, metadatas []types.ChunkMetadata, embeddings [][]float32) error {
	if err := validateUpsert(ids, documents, metadatas, embeddings); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dim := len(embeddings[0])
	if c.dimension != 0 && dim != c.dimension {
		return fmt.Errorf("%w: collection %s has %d dims, got %d", ErrDimensionMismatch, c.name, c.dimension, dim)
	}
	c.dimension = dim

	for i, id := range ids {
		vec := make([]float32, len(embeddings[i]))
		copy(vec, embeddings[i])
		c.records[id] = Record{ID: id, Document: documents[i], Metadata: metadatas[i], Embedding: vec}
	}
	return nil
}

func (c *memoryCollection) Get(ctx context.Context, ids []string) ([]Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := c.records[id]; ok {
			records = append(records, r)
		}
	}
	return records, nil
}

func (c *memoryCollection) Query(ctx context.Context, vector []float32, n int, where *Where) ([]Match, error) {
	if n <= 0 {
		return []Match{}, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.dimension != 0 && len(vector) != c.dimension {
		return nil, fmt.Errorf("%w: collection %s has %d dims, query has %d", ErrDimensionMismatch, c.name, c.dimension, len(vector))
	}

	matches := make([]Match, 0, len(c.records))
	for _, r := range c.records {
		if !where.Matches(r.Metadata) {
			continue
		}
		matches = append(matches, Match{Record: r, Distance: cosineDistance(vector, r.Embedding)})
	}
	return rankMatches(matches, n), nil
}

func (c *memoryCollection) Count(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records), nil
}
