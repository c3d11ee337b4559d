package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoexplain/internal/pipeline"
	"github.com/dshills/repoexplain/internal/storage"
	"github.com/dshills/repoexplain/pkg/types"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"README.md":     "# Demo\nReads configuration files.",
		"src/config.py": "def parse_config(path):\n    return open(path).read()\n",
	}
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}
	return dir
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: dev")
	assert.Contains(t, out, "SQLite Driver: "+storage.DriverName)
}

func TestIngestThenQuery(t *testing.T) {
	store := t.TempDir()
	common := []string{"--store", store, "--collection", "demo", "--model", "local:test", "--log-level", "error"}

	out, err := run(t, append([]string{"ingest", "--local", writeRepo(t), "--repo", "acme/demo"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `collection "demo"`)
	assert.NotContains(t, out, "WARNING")

	out, err = run(t, append([]string{"query", "config", "parsing", "-k", "2", "--json"}, common...)...)
	require.NoError(t, err)
	var results []types.RetrievalResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "acme/demo", results[0].Metadata.Repo)

	out, err = run(t, append([]string{"collections"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "demo\tdim=")
}

func TestChunkThenEmbed(t *testing.T) {
	store := t.TempDir()
	chunks := filepath.Join(t.TempDir(), "chunks.jsonl")

	out, err := run(t, "chunk", writeRepo(t), "--repo", "acme/demo", "-o", chunks, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 chunks")

	out, err = run(t, "embed", chunks, "--dummy", "--store", store, "--collection", "dry", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, `stored 2 records in collection "dry"`)
}

func TestZeroCountsFail(t *testing.T) {
	empty := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(empty, "blank.txt"), []byte("\n"), 0644))

	_, err := run(t, "chunk", empty, "-o", filepath.Join(t.TempDir(), "c.jsonl"), "--log-level", "error")
	assert.ErrorIs(t, err, pipeline.ErrNoChunks)

	_, err = run(t, "ingest", "--local", empty, "--store", t.TempDir(), "--dummy", "--log-level", "error")
	assert.ErrorIs(t, err, pipeline.ErrNoChunks)

	_, err = run(t, "ingest", "--log-level", "error")
	assert.ErrorIs(t, err, pipeline.ErrNoSource)
}

func TestQueryDoesNotCreateStore(t *testing.T) {
	store := filepath.Join(t.TempDir(), "fresh")
	common := []string{"--store", store, "--model", "local:test", "--log-level", "error"}

	_, err := run(t, append([]string{"query", "anything"}, common...)...)
	assert.ErrorIs(t, err, storage.ErrStoreNotFound)
	assert.NoDirExists(t, store)

	out, err := run(t, append([]string{"collections"}, common...)...)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoDirExists(t, store)
}
