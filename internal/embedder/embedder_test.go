package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ComputeHash(""))
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", ComputeHash("hello world"))
	assert.Equal(t, ComputeHash("test"), ComputeHash("test"))
}

func TestValidateTexts(t *testing.T) {
	assert.NoError(t, ValidateTexts([]string{"a", "b"}, 2))
	assert.ErrorIs(t, ValidateTexts(nil, 2), ErrInvalidInput)
	assert.ErrorIs(t, ValidateTexts([]string{"a", "b", "c"}, 2), ErrBatchTooLarge)
	assert.ErrorIs(t, ValidateTexts([]string{"a", ""}, 0), ErrEmptyText)
}

func TestCache_ReturnsCopies(t *testing.T) {
	cache := NewCache(2)
	emb := &Embedding{Vector: []float32{1, 2}, Dimension: 2}
	cache.Set("h", emb)

	emb.Vector[0] = 99
	got, ok := cache.Get("h")
	require.True(t, ok)
	assert.Equal(t, float32(1), got.Vector[0])

	got.Vector[1] = 42
	again, _ := cache.Get("h")
	assert.Equal(t, float32(2), again.Vector[1])
}

func TestCache_Eviction(t *testing.T) {
	cache := NewCache(2)
	cache.Set("a", &Embedding{})
	cache.Set("b", &Embedding{})
	cache.Set("c", &Embedding{})

	assert.Equal(t, 2, cache.Size())
	_, ok := cache.Get("a")
	assert.False(t, ok)

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}

func TestLocalProvider(t *testing.T) {
	p := NewLocalProvider("", 0, NewCache(10))
	assert.Equal(t, LocalDimension, p.Dimension())
	assert.Equal(t, ProviderLocal, p.Provider())
	assert.Equal(t, DefaultLocalModel, p.Model())

	embs, err := p.GenerateBatch(context.Background(), []string{
		"parse the config file",
		"parse config files",
		"render a triangle on the gpu",
	})
	require.NoError(t, err)
	require.Len(t, embs, 3)

	for _, e := range embs {
		assert.Len(t, e.Vector, LocalDimension)
		assert.InDelta(t, 1.0, normSquared(e.Vector), 1e-5)
	}

	related := dot(embs[0].Vector, embs[1].Vector)
	unrelated := dot(embs[0].Vector, embs[2].Vector)
	assert.Greater(t, related, unrelated)
}

func TestLocalProvider_Deterministic(t *testing.T) {
	a, err := NewLocalProvider("", 64, nil).GenerateBatch(context.Background(), []string{"same text"})
	require.NoError(t, err)
	b, err := NewLocalProvider("", 64, nil).GenerateBatch(context.Background(), []string{"same text"})
	require.NoError(t, err)
	assert.Equal(t, a[0].Vector, b[0].Vector)
}

func TestLocalProvider_PunctuationOnly(t *testing.T) {
	embs, err := NewLocalProvider("", 8, nil).GenerateBatch(context.Background(), []string{"{}();"})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), embs[0].Vector)
}

func TestNormalizeVector(t *testing.T) {
	assert.Equal(t, []float32{0.6, 0.8}, NormalizeVector([]float32{3, 4}))
	assert.Equal(t, []float32{0, 0}, NormalizeVector([]float32{0, 0}))
}

func normSquared(v []float32) float64 {
	return dot(v, v)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
