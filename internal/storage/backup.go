package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// BackupFileName is the JSONL log written next to the store when the
// persistent backend is unavailable
const BackupFileName = "embeddings_backup.jsonl"

// BackupLog appends records, one JSON object per line, so a later run can
// restore them into a persistent store
type BackupLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// OpenBackupLog opens dir/BackupFileName for appending, creating dir as needed
func OpenBackupLog(dir string) (*BackupLog, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	path := filepath.Join(dir, BackupFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup log: %w", err)
	}
	return &BackupLog{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Path returns the backup file location
func (b *BackupLog) Path() string {
	return b.path
}

// Append writes records and flushes them to disk
func (b *BackupLog) Append(records []Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	enc := json.NewEncoder(b.w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write backup record %s: %w", r.ID, err)
		}
	}
	return b.w.Flush()
}

func (b *BackupLog) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	flushErr := b.w.Flush()
	closeErr := b.f.Close()
	return errors.Join(flushErr, closeErr)
}

// ReadBackupLog loads every record from a backup file. Blank lines are skipped.
func ReadBackupLog(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup log: %w", err)
	}
	defer func() { _ = f.Close() }()
	return decodeBackup(f)
}

func decodeBackup(r io.Reader) ([]Record, error) {
	var records []Record
	dec := json.NewDecoder(r)
	for line := 1; ; line++ {
		var rec Record
		err := dec.Decode(&rec)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("backup record %d: %w", line, err)
		}
		if rec.ID == "" {
			return nil, fmt.Errorf("backup record %d: missing id", line)
		}
		records = append(records, rec)
	}
}
