package chunker

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoexplain/pkg/types"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func sampleRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "README.md", "# Project\nIntro\n## Usage\nRun it")
	writeFile(t, root, "src/app.py", "def main():\n    print('hi')\n\ndef helper():\n    return 1\n")
	writeFile(t, root, "notes.txt", "plain notes")
	writeFile(t, root, "empty.txt", "   \n\n")
	writeFile(t, root, ".git/config", "[core]\n\tbare = false")
	writeFile(t, root, "logo.bin", "PNG\x00\x01\x02")
	return root
}

func TestChunkFolder(t *testing.T) {
	root := sampleRepo(t)
	c := newTestChunker(t, DefaultChunkSizeTokens, DefaultOverlapTokens)

	var buf bytes.Buffer
	n, err := c.ChunkFolder(context.Background(), root, "owner/repo", &buf)
	require.NoError(t, err)

	chunks, err := ReadChunks(&buf)
	require.NoError(t, err)
	require.Len(t, chunks, n)
	assert.Equal(t, 5, n)

	var paths []string
	for _, ch := range chunks {
		assert.Equal(t, "owner/repo", ch.Metadata.Repo)
		if len(paths) == 0 || paths[len(paths)-1] != ch.Metadata.FilePath {
			paths = append(paths, ch.Metadata.FilePath)
		}
	}
	assert.Equal(t, []string{"README.md", "notes.txt", "src/app.py"}, paths)
}

func TestChunkFolder_MissingDir(t *testing.T) {
	c := newTestChunker(t, DefaultChunkSizeTokens, DefaultOverlapTokens)

	_, err := c.ChunkFolder(context.Background(), filepath.Join(t.TempDir(), "nope"), "r", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestChunkFolder_Cancelled(t *testing.T) {
	root := sampleRepo(t)
	c := newTestChunker(t, DefaultChunkSizeTokens, DefaultOverlapTokens)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ChunkFolder(ctx, root, "r", &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChunkFolderToFile_Truncates(t *testing.T) {
	root := sampleRepo(t)
	out := filepath.Join(t.TempDir(), "processed", "chunks.jsonl")
	c := newTestChunker(t, DefaultChunkSizeTokens, DefaultOverlapTokens)

	first, err := c.ChunkFolderToFile(context.Background(), root, "r", out)
	require.NoError(t, err)
	second, err := c.ChunkFolderToFile(context.Background(), root, "r", out)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	chunks, err := LoadChunksFile(out)
	require.NoError(t, err)
	assert.Len(t, chunks, second)
}

func TestWriteChunks_NoHTMLEscaping(t *testing.T) {
	chunks := []types.Chunk{{
		Content:  "func Map[T any](xs []T) <-chan T && ünïcode",
		Metadata: types.ChunkMetadata{Repo: "r", FilePath: "a.go", FileType: types.FileCode},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteChunks(&buf, chunks))
	assert.Contains(t, buf.String(), "<-chan T && ünïcode")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	got, err := ReadChunks(&buf)
	require.NoError(t, err)
	assert.Equal(t, chunks, got)
}

func TestReadChunks_Validation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		want    int
	}{
		{
			name:  "blank lines skipped",
			input: "\n" + `{"content":"x","metadata":{"repo":"r","file_path":"a","file_type":"text","chunk_index":0}}` + "\n\n",
			want:  1,
		},
		{
			name:    "missing chunk_index",
			input:   `{"content":"x","metadata":{"repo":"r","file_path":"a","file_type":"text"}}`,
			wantErr: ErrMissingMetadata,
		},
		{
			name:    "missing content",
			input:   `{"metadata":{"repo":"r","file_path":"a","file_type":"text","chunk_index":0}}`,
			wantErr: types.ErrEmptyContent,
		},
		{
			name:    "unknown file type",
			input:   `{"content":"x","metadata":{"repo":"r","file_path":"a","file_type":"binary","chunk_index":0}}`,
			wantErr: types.ErrInvalidFileType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := ReadChunks(strings.NewReader(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, chunks, tt.want)
		})
	}
}
