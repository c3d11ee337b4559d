package embedder

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps each text to [len(text)] and records batch sizes
type fakeEmbedder struct {
	batches []int
	failOn  int // 1-based batch number that fails, 0 = never
	closed  bool
}

func (f *fakeEmbedder) GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	f.batches = append(f.batches, len(texts))
	if f.failOn == len(f.batches) {
		return nil, errors.New("backend exploded")
	}
	out := make([]*Embedding, len(texts))
	for i, t := range texts {
		out[i] = &Embedding{Vector: []float32{float32(len(t))}}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int   { return 1 }
func (f *fakeEmbedder) Provider() string { return "fake" }
func (f *fakeEmbedder) Model() string    { return "fake" }
func (f *fakeEmbedder) Close() error     { f.closed = true; return nil }

func fakeLoader(loaded map[string]*fakeEmbedder, loads *int) Loader {
	return func(ctx context.Context, modelID string) (Embedder, error) {
		*loads++
		if modelID == "missing" {
			return nil, fmt.Errorf("%w: %s", ErrDependencyMissing, modelID)
		}
		f := &fakeEmbedder{}
		if modelID == "flaky" {
			f.failOn = 2
		}
		loaded[modelID] = f
		return f, nil
	}
}

func TestModelCache_LoadsOncePerModel(t *testing.T) {
	loaded := map[string]*fakeEmbedder{}
	loads := 0
	cache := NewModelCache(fakeLoader(loaded, &loads))

	a1, err := cache.Get(context.Background(), "a")
	require.NoError(t, err)
	a2, err := cache.Get(context.Background(), "a")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "b")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, 2, loads)
	assert.Equal(t, 2, cache.Len())

	require.NoError(t, cache.Close())
	assert.True(t, loaded["a"].closed)
	assert.True(t, loaded["b"].closed)
	assert.Equal(t, 0, cache.Len())
}

func TestModelCache_FailedLoadNotCached(t *testing.T) {
	loads := 0
	cache := NewModelCache(fakeLoader(map[string]*fakeEmbedder{}, &loads))

	_, err := cache.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDependencyMissing)
	_, err = cache.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDependencyMissing)
	assert.Equal(t, 2, loads)
	assert.Equal(t, 0, cache.Len())
}

func TestAdapter_Embed(t *testing.T) {
	loaded := map[string]*fakeEmbedder{}
	loads := 0
	adapter := NewAdapter(NewModelCache(fakeLoader(loaded, &loads)), 2)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := adapter.Embed(context.Background(), texts, "m")
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Equal(t, []float32{float32(i + 1)}, v)
	}
	assert.Equal(t, []int{2, 2, 1}, loaded["m"].batches)
}

func TestAdapter_BatchSizeDoesNotChangeResult(t *testing.T) {
	texts := []string{"one", "three", "five", "seven", "nine", "eleven", "thirteen"}

	var results [][][]float32
	for _, size := range []int{1, 3, 64} {
		loads := 0
		adapter := NewAdapter(NewModelCache(fakeLoader(map[string]*fakeEmbedder{}, &loads)), size)
		vectors, err := adapter.Embed(context.Background(), texts, "m")
		require.NoError(t, err)
		results = append(results, vectors)
	}
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, results[0], results[2])
}

func TestAdapter_EmptyInput(t *testing.T) {
	loads := 0
	adapter := NewAdapter(NewModelCache(fakeLoader(map[string]*fakeEmbedder{}, &loads)), 0)

	vectors, err := adapter.Embed(context.Background(), nil, "m")
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Equal(t, 0, loads)
}

func TestAdapter_Errors(t *testing.T) {
	loads := 0
	adapter := NewAdapter(NewModelCache(fakeLoader(map[string]*fakeEmbedder{}, &loads)), 1)

	_, err := adapter.Embed(context.Background(), []string{"x"}, "missing")
	assert.ErrorIs(t, err, ErrDependencyMissing)

	vectors, err := adapter.Embed(context.Background(), []string{"x", "y", "z"}, "flaky")
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.Nil(t, vectors)
}

func TestAdapter_LocalModel(t *testing.T) {
	models := NewModelCache(NewLoader(Config{CacheSize: 100}))
	defer models.Close()

	vectors, err := NewAdapter(models, 0).Embed(context.Background(), []string{"hello world", "goodbye"}, "local:hashing")
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], LocalDimension)
}

func TestAdapter_Dimension(t *testing.T) {
	loads := 0
	a := NewAdapter(NewModelCache(fakeLoader(map[string]*fakeEmbedder{}, &loads)), 0)
	assert.Equal(t, 1, a.Dimension(context.Background(), "a"))
	assert.Zero(t, a.Dimension(context.Background(), "missing"))
}
