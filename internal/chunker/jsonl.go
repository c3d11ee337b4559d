package chunker

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dshills/repoexplain/pkg/types"
)

// ErrMissingMetadata is returned when an exchange line lacks a metadata key
var ErrMissingMetadata = errors.New("chunk line is missing metadata")

// maxLineBytes bounds a single JSONL line
const maxLineBytes = 16 * 1024 * 1024

// WriteChunks writes chunks as JSON lines of {"content", "metadata"}
func WriteChunks(w io.Writer, chunks []types.Chunk) error {
	enc := newChunkEncoder(w)
	for i := range chunks {
		if err := enc.Encode(&chunks[i]); err != nil {
			return fmt.Errorf("write chunk %d: %w", i, err)
		}
	}
	return nil
}

type rawChunk struct {
	Content  *string                    `json:"content"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

// ReadChunks parses the JSONL exchange format. Blank lines are ignored. A
// line without content or without any of the four metadata keys is an error.
func ReadChunks(r io.Reader) ([]types.Chunk, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var chunks []types.Chunk
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw rawChunk
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if raw.Content == nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, types.ErrEmptyContent)
		}
		for _, field := range types.MetadataFields {
			if _, ok := raw.Metadata[string(field)]; !ok {
				return nil, fmt.Errorf("line %d: %w: %s", lineNo, ErrMissingMetadata, field)
			}
		}

		var chunk types.Chunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := chunk.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		chunks = append(chunks, chunk)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	return chunks, nil
}

// LoadChunksFile reads a JSONL chunk file from disk
func LoadChunksFile(path string) ([]types.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunks file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadChunks(f)
}
