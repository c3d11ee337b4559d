package embedder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelID(t *testing.T) {
	tests := []struct {
		id           string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{"local", ProviderLocal, DefaultLocalModel, false},
		{"local:hashing", ProviderLocal, "hashing", false},
		{"openai:text-embedding-3-small", ProviderOpenAI, "text-embedding-3-small", false},
		{"OpenAI:text-embedding-3-large", ProviderOpenAI, "text-embedding-3-large", false},
		{"jina:jina-embeddings-v3", ProviderJina, "jina-embeddings-v3", false},
		{"gemini:text-embedding-004", ProviderGemini, "text-embedding-004", false},
		{"sentence-transformers/all-MiniLM-L6-v2", "", "", true},
		{"cohere:embed-english", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			provider, model, err := ParseModelID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDependencyMissing)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProvider, provider)
			assert.Equal(t, tt.wantModel, model)
		})
	}
}

func TestNew(t *testing.T) {
	e, err := New(context.Background(), "local:mini", Config{})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, e.Provider())
	assert.Equal(t, "mini", e.Model())

	_, err = New(context.Background(), "openai:text-embedding-3-small", Config{})
	assert.ErrorIs(t, err, ErrDependencyMissing)

	e, err = New(context.Background(), "openai:nomic", Config{OpenAIBaseURL: "http://localhost:1234"})
	require.NoError(t, err)
	assert.Equal(t, "nomic", e.Model())
}

func TestNew_WithPersistentCache(t *testing.T) {
	cache, err := OpenBoltCache(filepath.Join(t.TempDir(), "cache", "embed.db"))
	require.NoError(t, err)
	defer cache.Close()

	e, err := New(context.Background(), "local", Config{Persistent: cache})
	require.NoError(t, err)
	_, ok := e.(*persistentEmbedder)
	assert.True(t, ok)
}
