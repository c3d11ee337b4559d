package embedder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltCache_GetPut(t *testing.T) {
	cache, err := OpenBoltCache(filepath.Join(t.TempDir(), "embed.db"))
	require.NoError(t, err)
	defer cache.Close()

	got, err := cache.Get("m", []string{"h1"})
	require.NoError(t, err)
	assert.Nil(t, got[0])

	require.NoError(t, cache.Put("m", []string{"h1", "h2"}, [][]float32{{1.5, -2}, {0.25}}))

	got, err = cache.Get("m", []string{"h2", "missing", "h1"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25}, got[0])
	assert.Nil(t, got[1])
	assert.Equal(t, []float32{1.5, -2}, got[2])

	other, err := cache.Get("other-model", []string{"h1"})
	require.NoError(t, err)
	assert.Nil(t, other[0])

	assert.ErrorIs(t, cache.Put("m", []string{"h"}, nil), ErrInvalidInput)
}

func TestPersistentEmbedder_SkipsCachedTexts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embed.db")
	cache, err := OpenBoltCache(path)
	require.NoError(t, err)

	inner := &fakeEmbedder{}
	e := WithPersistentCache(inner, cache)

	first, err := e.GenerateBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, inner.batches)

	second, err := e.GenerateBatch(context.Background(), []string{"bb", "ccc", "a"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, inner.batches)
	assert.Equal(t, first[1].Vector, second[0].Vector)
	assert.Equal(t, []float32{3}, second[1].Vector)
	assert.Equal(t, first[0].Vector, second[2].Vector)
	require.NoError(t, cache.Close())

	// survives reopening
	cache, err = OpenBoltCache(path)
	require.NoError(t, err)
	defer cache.Close()

	fresh := &fakeEmbedder{}
	third, err := WithPersistentCache(fresh, cache).GenerateBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, fresh.batches)
	assert.Equal(t, []float32{1}, third[0].Vector)
}

func TestWithPersistentCache_Nil(t *testing.T) {
	inner := &fakeEmbedder{}
	assert.Same(t, Embedder(inner), WithPersistentCache(inner, nil))
}
