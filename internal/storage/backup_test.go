package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupLog_AppendAndRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	log, err := OpenBackupLog(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, BackupFileName), log.Path())

	require.NoError(t, log.Append([]Record{
		{ID: "demo::a.py::0", Document: "x < y && z", Metadata: meta("a.py", 0), Embedding: []float32{1, 0}},
	}))
	require.NoError(t, log.Append([]Record{
		{ID: "demo::a.py::1", Document: "second", Metadata: meta("a.py", 1), Embedding: []float32{0, 1}},
	}))
	require.NoError(t, log.Close())

	raw, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"document":"x < y && z"`)

	records, err := ReadBackupLog(log.Path())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "demo::a.py::1", records[1].ID)
	assert.Equal(t, []float32{0, 1}, records[1].Embedding)
	assert.Equal(t, 1, records[1].Metadata.ChunkIndex)
}

func TestBackupLog_AppendsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		log, err := OpenBackupLog(dir)
		require.NoError(t, err)
		require.NoError(t, log.Append([]Record{{ID: "r", Embedding: []float32{1}}}))
		require.NoError(t, log.Close())
	}

	records, err := ReadBackupLog(filepath.Join(dir, BackupFileName))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestReadBackupLog_Errors(t *testing.T) {
	_, err := ReadBackupLog(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), BackupFileName)
	require.NoError(t, os.WriteFile(path, []byte("{\"document\":\"no id\"}\n"), 0644))
	_, err = ReadBackupLog(path)
	assert.ErrorContains(t, err, "missing id")
}
