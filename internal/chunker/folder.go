package chunker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// binarySniffLen is how many leading bytes are checked for NUL when deciding
// whether a file is text
const binarySniffLen = 8000

var skipDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// ChunkFolder walks inputDir in lexical order, chunks every readable text
// file and writes one JSON line per chunk to w. Paths in metadata are
// relative to inputDir with forward slashes. Unreadable and binary files are
// skipped. Returns the number of chunks written.
func (c *Chunker) ChunkFolder(ctx context.Context, inputDir, repo string, w io.Writer) (int, error) {
	info, err := os.Stat(inputDir)
	if err != nil {
		return 0, fmt.Errorf("input dir: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("input dir %s is not a directory", inputDir)
	}

	enc := newChunkEncoder(w)
	total := 0
	files := 0

	err = filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			c.logger.Debug("skipping unreadable path", zap.String("path", path), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != inputDir && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(inputDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Debug("skipping unreadable file", zap.String("path", rel), zap.Error(err))
			return nil
		}
		if isBinary(data) {
			c.logger.Debug("skipping binary file", zap.String("path", rel))
			return nil
		}

		chunks, err := c.ChunkFile(strings.ToValidUTF8(string(data), "\uFFFD"), repo, rel)
		if err != nil {
			return err
		}
		for i := range chunks {
			if err := enc.Encode(&chunks[i]); err != nil {
				return fmt.Errorf("write chunk: %w", err)
			}
		}
		total += len(chunks)
		files++
		return nil
	})
	if err != nil {
		return total, err
	}

	c.logger.Info("chunked folder",
		zap.String("dir", inputDir),
		zap.String("repo", repo),
		zap.Int("files", files),
		zap.Int("chunks", total))
	return total, nil
}

// ChunkFolderToFile runs ChunkFolder into outputPath, replacing any previous
// content.
func (c *Chunker) ChunkFolderToFile(ctx context.Context, inputDir, repo, outputPath string) (int, error) {
	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("create output dir: %w", err)
		}
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	n, err := c.ChunkFolder(ctx, inputDir, repo, bw)
	if err != nil {
		return n, err
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("flush output file: %w", err)
	}
	return n, f.Sync()
}

func isBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

func newChunkEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}
