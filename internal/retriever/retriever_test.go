package retriever

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoexplain/internal/storage"
	"github.com/dshills/repoexplain/pkg/types"
)

// fixedEmbedder maps known texts to vectors and counts calls
type fixedEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (f *fixedEmbedder) Embed(ctx context.Context, texts []string, modelID string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func setup(t *testing.T) (*fixedEmbedder, storage.Opener) {
	t.Helper()
	open, err := storage.NewOpener(storage.Config{Backend: storage.BackendMemory})
	require.NoError(t, err)

	ctx := context.Background()
	store, err := open(ctx, "")
	require.NoError(t, err)
	coll, err := store.GetOrCreateCollection(ctx, "docs", 0)
	require.NoError(t, err)
	require.NoError(t, coll.Upsert(ctx,
		[]string{"demo::README.md::0", "demo::app.py::0", "demo::app.py::1"},
		[]string{"install steps", "def main(): pass", "class App: pass"},
		[]types.ChunkMetadata{
			{Repo: "demo", FilePath: "README.md", FileType: types.FileMarkdown, ChunkIndex: 0},
			{Repo: "demo", FilePath: "app.py", FileType: types.FileCode, ChunkIndex: 0},
			{Repo: "demo", FilePath: "app.py", FileType: types.FileCode, ChunkIndex: 1},
		},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.2, 1, 0}},
	))

	emb := &fixedEmbedder{vectors: map[string][]float32{
		"how do I install": {1, 0, 0},
		"entry point":      {0, 1, 0},
	}}
	return emb, open
}

func TestQuery_Ranked(t *testing.T) {
	emb, open := setup(t)
	r := New(emb, open, 0, nil)

	results, err := r.Query(context.Background(), Request{Collection: "docs", Query: "entry point", K: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "demo::app.py::0", results[0].ID)
	assert.Equal(t, "demo::app.py::1", results[1].ID)
	require.NotNil(t, results[0].Distance)
	assert.LessOrEqual(t, *results[0].Distance, *results[1].Distance)
}

func TestQuery_DefaultK(t *testing.T) {
	emb, open := setup(t)
	results, err := New(emb, open, 0, nil).Query(context.Background(), Request{Collection: "docs", Query: "anything"})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestQuery_Where(t *testing.T) {
	emb, open := setup(t)
	where, err := storage.NewWhere("file_type", "markdown")
	require.NoError(t, err)

	results, err := New(emb, open, 0, nil).Query(context.Background(), Request{
		Collection: "docs",
		Query:      "entry point",
		K:          5,
		Where:      where,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "README.md", results[0].Metadata.FilePath)
}

func TestQuery_EmptyQuery(t *testing.T) {
	emb, open := setup(t)
	_, err := New(emb, open, 0, nil).Query(context.Background(), Request{Collection: "docs", Query: "  \n\t"})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Zero(t, emb.calls)
}

func TestQuery_MissingCollection(t *testing.T) {
	emb, open := setup(t)
	_, err := New(emb, open, 0, nil).Query(context.Background(), Request{Collection: "nope", Query: "entry point"})
	assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
}

func TestQuery_VectorCache(t *testing.T) {
	emb, open := setup(t)
	r := New(emb, open, 8, nil)

	for i := 0; i < 3; i++ {
		_, err := r.Query(context.Background(), Request{Collection: "docs", Query: "entry point", ModelID: "local:a"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, emb.calls)

	_, err := r.Query(context.Background(), Request{Collection: "docs", Query: "entry point", ModelID: "local:b"})
	require.NoError(t, err)
	assert.Equal(t, 2, emb.calls)
}

func TestQuery_TrimsWhitespace(t *testing.T) {
	emb, open := setup(t)
	r := New(emb, open, 8, nil)

	results, err := r.Query(context.Background(), Request{Collection: "docs", Query: "  entry point\n", K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "demo::app.py::0", results[0].ID)

	_, err = r.Query(context.Background(), Request{Collection: "docs", Query: "entry point", K: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, emb.calls)
}

func TestQuery_StoreNeverIndexed(t *testing.T) {
	cfg := storage.Config{Backend: storage.BackendSQLite}
	open, err := storage.NewOpener(cfg)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "empty")
	emb := &fixedEmbedder{}
	_, err = New(emb, storage.ReadOnly(cfg, open), 0, nil).Query(context.Background(),
		Request{Location: dir, Collection: "docs", Query: "entry point"})
	assert.ErrorIs(t, err, storage.ErrStoreNotFound)
	assert.NoDirExists(t, dir)
	assert.Zero(t, emb.calls)
}
