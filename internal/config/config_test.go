package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoexplain/internal/generation"
	"github.com/dshills/repoexplain/internal/storage"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"GITHUB_TOKEN", "GROQ_API_KEY", "OPENAI_API_KEY", "JINA_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Chunk.SizeTokens)
	assert.Equal(t, 200, cfg.Chunk.OverlapTokens)
	assert.Equal(t, "local:hashing", cfg.Embed.Model)
	assert.Equal(t, 64, cfg.Embed.BatchSize)
	assert.Equal(t, storage.BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "repo_embeddings", cfg.Store.Collection)
	assert.Equal(t, 5*time.Second, cfg.Store.DialTimeout)
	assert.Equal(t, 5, cfg.Retrieval.K)
	assert.Equal(t, generation.DefaultBaseURL, cfg.Generation.BaseURL)
	assert.Equal(t, generation.DefaultModel, cfg.Generation.Model)
	assert.Equal(t, 4096, cfg.Generation.NCtx)
	assert.Contains(t, cfg.GitHub.Extensions, ".ipynb")
}

func TestLoad_FileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "repoexplain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chunk:
  size_tokens: 500
  overlap_tokens: 50
store:
  backend: qdrant
  collection: from_file
generation:
  model: llama-3.3-70b
`), 0644))

	t.Setenv("REPOEXPLAIN_STORE_COLLECTION", "from_env")
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("GITHUB_TOKEN", "ghp_test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Chunk.SizeTokens)
	assert.Equal(t, storage.BackendQdrant, cfg.Store.Backend)
	assert.Equal(t, "from_env", cfg.Store.Collection)
	assert.Equal(t, "llama-3.3-70b", cfg.Generation.Model)
	assert.Equal(t, "gsk_test", cfg.Generation.APIKey)
	assert.Equal(t, "ghp_test", cfg.GitHub.Token)
}

func TestLoad_PrefixedEnvWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_API_KEY", "plain")
	t.Setenv("REPOEXPLAIN_GENERATION_API_KEY", "prefixed")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Generation.APIKey)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPOEXPLAIN_CHUNK_OVERLAP_TOKENS", "1000")
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_Warnings(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	warnings := cfg.Validate()
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "GROQ_API_KEY") {
			found = true
		}
	}
	assert.True(t, found, "expected missing key warning, got %v", warnings)

	cfg.Generation.APIKey = "x"
	cfg.Generation.Temperature = 3
	warnings = cfg.Validate()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "temperature")
}

func TestValidateStrict(t *testing.T) {
	cfg := &Config{
		Chunk:     ChunkConfig{SizeTokens: 100, OverlapTokens: 10},
		Store:     StoreConfig{Backend: "mongo", Collection: ""},
		Retrieval: RetrievalConfig{K: 0},
	}
	err := cfg.ValidateStrict()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongo")
	assert.Contains(t, err.Error(), "collection")
	assert.Contains(t, err.Error(), "retrieval k")
}

func TestGeneratorConfig_GeminiModel(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, generation.DefaultModel, cfg.GeneratorConfig().Params.Model)
	cfg.Generation.Backend = generation.BackendGemini
	assert.Equal(t, "", cfg.GeneratorConfig().Params.Model)
}
