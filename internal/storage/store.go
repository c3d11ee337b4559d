package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dshills/repoexplain/pkg/types"
)

var (
	// ErrCollectionNotFound is returned when a named collection does not exist
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrLengthMismatch is returned when upsert arrays differ in length
	ErrLengthMismatch = errors.New("ids, documents, metadatas and embeddings must have equal length")
	// ErrDimensionMismatch is returned when a vector does not match the collection dimension
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrInvalidCollection is returned for an empty collection name
	ErrInvalidCollection = errors.New("collection name is required")
	// ErrInvalidFilter is returned when a filter value cannot apply to its field
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrStoreNotFound is returned by read-only opens when nothing has been stored at the location
	ErrStoreNotFound = errors.New("no store at location")
)

// Record is one stored chunk: id, text, provenance and vector
type Record struct {
	ID        string              `json:"id"`
	Document  string              `json:"document"`
	Metadata  types.ChunkMetadata `json:"metadata"`
	Embedding []float32           `json:"embedding"`
}

// Match is a query hit. Distance is cosine distance, lower is closer.
type Match struct {
	Record
	Distance float64
}

// Where is a single-field equality filter on chunk metadata
type Where struct {
	Field types.MetadataField
	Value string
}

// NewWhere validates field and value. chunk_index values must be integers.
func NewWhere(field, value string) (*Where, error) {
	f, err := types.ParseMetadataField(field)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	if f == types.FieldChunkIndex {
		if _, err := strconv.Atoi(value); err != nil {
			return nil, fmt.Errorf("%w: chunk_index must be an integer, got %q", ErrInvalidFilter, value)
		}
	}
	return &Where{Field: f, Value: value}, nil
}

// Matches reports whether metadata satisfies the filter. A nil filter matches everything.
func (w *Where) Matches(m types.ChunkMetadata) bool {
	if w == nil {
		return true
	}
	return m.Value(w.Field) == w.Value
}

// CollectionInfo summarizes a collection
type CollectionInfo struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Count     int    `json:"count"`
}

// Store is a vector store holding named collections
type Store interface {
	// GetOrCreateCollection opens name, creating it if needed. dimension <= 0
	// leaves the dimension to be fixed by the first upsert where the backend allows it.
	GetOrCreateCollection(ctx context.Context, name string, dimension int) (Collection, error)

	// GetCollection opens an existing collection or returns ErrCollectionNotFound
	GetCollection(ctx context.Context, name string) (Collection, error)

	ListCollections(ctx context.Context) ([]CollectionInfo, error)

	// DeleteCollection removes name and its records. Missing collections are not an error.
	DeleteCollection(ctx context.Context, name string) error

	Close() error
}

// Collection holds records of one embedding model
type Collection interface {
	Name() string

	// Upsert inserts or replaces records by id. The four slices are parallel.
	Upsert(ctx context.Context, ids, documents []string, metadatas []types.ChunkMetadata, embeddings [][]float32) error

	// Get returns the records with the given ids, in request order, skipping unknown ids
	Get(ctx context.Context, ids []string) ([]Record, error)

	// Query returns up to n nearest records in ascending distance order
	Query(ctx context.Context, vector []float32, n int, where *Where) ([]Match, error)

	Count(ctx context.Context) (int, error)
}

func validateUpsert(ids, documents []string, metadatas []types.ChunkMetadata, embeddings [][]float32) error {
	n := len(ids)
	if len(documents) != n || len(metadatas) != n || len(embeddings) != n {
		return fmt.Errorf("%w: %d ids, %d documents, %d metadatas, %d embeddings",
			ErrLengthMismatch, n, len(documents), len(metadatas), len(embeddings))
	}
	if n == 0 {
		return nil
	}
	dim := len(embeddings[0])
	for i, e := range embeddings {
		if len(e) != dim {
			return fmt.Errorf("%w: embedding %d has %d dims, expected %d", ErrDimensionMismatch, i, len(e), dim)
		}
	}
	return nil
}

// Backend names accepted by NewOpener
const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
	BackendMemory = "memory"
)

// Config selects and configures the store backend
type Config struct {
	Backend     string
	QdrantAddr  string
	DialTimeout time.Duration
}

// OpenError reports that a store could not be opened
type OpenError struct {
	Backend  string
	Location string
	Err      error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s store at %s: %v", e.Backend, e.Location, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// Opener opens the store at location. Failures are *OpenError so callers
// can choose a fallback.
type Opener func(ctx context.Context, location string) (Store, error)

// NewOpener returns an Opener for the configured backend.
//
// For sqlite, location is a directory holding DBFileName. For qdrant, the
// store lives at cfg.QdrantAddr. The memory backend shares one store across
// every open made through the returned Opener.
func NewOpener(cfg Config) (Opener, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return func(ctx context.Context, location string) (Store, error) {
			s, err := OpenSQLiteDir(location)
			if err != nil {
				return nil, &OpenError{Backend: BackendSQLite, Location: location, Err: err}
			}
			return s, nil
		}, nil
	case BackendQdrant:
		return func(ctx context.Context, location string) (Store, error) {
			s, err := NewQdrantStore(ctx, cfg.QdrantAddr, cfg.DialTimeout)
			if err != nil {
				return nil, &OpenError{Backend: BackendQdrant, Location: cfg.QdrantAddr, Err: err}
			}
			return s, nil
		}, nil
	case BackendMemory:
		var (
			once   sync.Once
			shared *MemoryStore
		)
		return func(ctx context.Context, location string) (Store, error) {
			once.Do(func() { shared = NewMemoryStore() })
			return shared, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// ReadOnly wraps open for query paths. The sqlite backend refuses to create
// a store that does not exist yet; other backends are returned unchanged.
func ReadOnly(cfg Config, open Opener) Opener {
	if cfg.Backend != "" && cfg.Backend != BackendSQLite {
		return open
	}
	return func(ctx context.Context, location string) (Store, error) {
		s, err := OpenExistingSQLiteDir(location)
		if err != nil {
			return nil, &OpenError{Backend: BackendSQLite, Location: location, Err: err}
		}
		return s, nil
	}
}
