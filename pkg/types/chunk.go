package types

import (
	"fmt"
	"strconv"
	"strings"
)

// FileType is the coarse category assigned to a source file from its extension
type FileType string

const (
	FileMarkdown FileType = "markdown"
	FileCode     FileType = "code"
	FileConfig   FileType = "config"
	FileNotebook FileType = "notebook"
	FileText     FileType = "text"
)

// Valid reports whether t is one of the known file types
func (t FileType) Valid() bool {
	switch t {
	case FileMarkdown, FileCode, FileConfig, FileNotebook, FileText:
		return true
	default:
		return false
	}
}

// MetadataField names one of the filterable chunk metadata keys
type MetadataField string

const (
	FieldRepo       MetadataField = "repo"
	FieldFilePath   MetadataField = "file_path"
	FieldFileType   MetadataField = "file_type"
	FieldChunkIndex MetadataField = "chunk_index"
)

// MetadataFields lists every metadata key in storage order
var MetadataFields = []MetadataField{FieldRepo, FieldFilePath, FieldFileType, FieldChunkIndex}

// ParseMetadataField validates a user supplied field name
func ParseMetadataField(name string) (MetadataField, error) {
	for _, f := range MetadataFields {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
}

// ChunkMetadata identifies where a chunk came from.
// The same four fields travel through the JSONL exchange file, the vector
// store and the backup log.
type ChunkMetadata struct {
	Repo       string   `json:"repo"`
	FilePath   string   `json:"file_path"`
	FileType   FileType `json:"file_type"`
	ChunkIndex int      `json:"chunk_index"`
}

// Value returns the string form of a metadata field, used for equality filters
func (m ChunkMetadata) Value(field MetadataField) string {
	switch field {
	case FieldRepo:
		return m.Repo
	case FieldFilePath:
		return m.FilePath
	case FieldFileType:
		return string(m.FileType)
	case FieldChunkIndex:
		return strconv.Itoa(m.ChunkIndex)
	default:
		return ""
	}
}

// Validate checks the metadata invariants
func (m ChunkMetadata) Validate() error {
	if m.FilePath == "" {
		return ErrMissingFilePath
	}
	if !m.FileType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFileType, m.FileType)
	}
	if m.ChunkIndex < 0 {
		return ErrInvalidChunkIndex
	}
	return nil
}

// Chunk is a bounded slice of a source file together with its provenance
type Chunk struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Validate checks that the chunk carries non-empty content and valid metadata
func (c *Chunk) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return ErrEmptyContent
	}
	return c.Metadata.Validate()
}

// ID returns the deterministic record id of the chunk
func (c *Chunk) ID() string {
	return ChunkID(c.Metadata.Repo, c.Metadata.FilePath, c.Metadata.ChunkIndex)
}

// ChunkID builds the record id "repo::file_path::chunk_index".
// Re-ingesting the same file with the same chunk parameters yields the same
// ids, which makes store upserts idempotent.
func ChunkID(repo, filePath string, chunkIndex int) string {
	return repo + "::" + filePath + "::" + strconv.Itoa(chunkIndex)
}

// EstimateTokenCount uses the fixed 4 characters per token ratio
func EstimateTokenCount(text string) int {
	return len([]rune(text)) / CharsPerToken
}

// CharsPerToken is the fixed ratio used to convert token budgets to characters
const CharsPerToken = 4
