package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/repoexplain/internal/chunker"
	"github.com/dshills/repoexplain/internal/storage"
	"github.com/dshills/repoexplain/pkg/types"
)

const (
	// DefaultBatchSize is the number of chunks embedded and upserted together
	DefaultBatchSize = 64

	// DummyDimension is the length of the zero vectors written in dummy mode
	DummyDimension = 8
)

var (
	// ErrNoCollection is returned when Options.Collection is empty
	ErrNoCollection = errors.New("collection name is required")
	// ErrNoModel is returned when no model id is given outside dummy mode
	ErrNoModel = errors.New("model id is required unless dummy mode is enabled")
)

// TextEmbedder turns texts into vectors, one per text in input order.
// *embedder.Adapter satisfies it.
type TextEmbedder interface {
	Embed(ctx context.Context, texts []string, modelID string) ([][]float32, error)
}

// dimensioner is implemented by embedders that know a model's vector length
// before embedding anything. 0 means unknown.
type dimensioner interface {
	Dimension(ctx context.Context, modelID string) int
}

// Indexer embeds chunk records and upserts them into a vector store
type Indexer struct {
	embed  TextEmbedder
	open   storage.Opener
	logger *zap.Logger
}

// Options controls a single Store call
type Options struct {
	Location   string // store location handed to the Opener
	Collection string
	ModelID    string
	BatchSize  int  // default: DefaultBatchSize
	Dummy      bool // zero vectors, no embedding calls

	// BackupDir receives the backup log when the store cannot be opened.
	// Defaults to Location.
	BackupDir string
}

// Statistics describes the outcome of a Store call
type Statistics struct {
	Collection string
	Stored     int
	Batches    int

	// Fallback is set when the persistent store could not be opened and
	// records went to an in-memory store plus the backup log at BackupPath.
	Fallback   bool
	BackupPath string
	Duration   time.Duration
}

// New creates an Indexer. embed may be nil when only dummy mode is used.
func New(embed TextEmbedder, open storage.Opener, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{embed: embed, open: open, logger: logger}
}

func (o *Options) normalize() error {
	if o.Collection == "" {
		return ErrNoCollection
	}
	if !o.Dummy && o.ModelID == "" {
		return ErrNoModel
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BackupDir == "" {
		o.BackupDir = o.Location
	}
	return nil
}

// target is where one run writes: the opened store and, in fallback, the backup log
type target struct {
	store  storage.Store
	backup *storage.BackupLog
}

func (t *target) close() error {
	var errs []error
	if t.backup != nil {
		errs = append(errs, t.backup.Close())
	}
	errs = append(errs, t.store.Close())
	return errors.Join(errs...)
}

// openTarget opens the persistent store, falling back to memory plus a
// backup log when it cannot be opened
func (idx *Indexer) openTarget(ctx context.Context, opts Options) (*target, error) {
	store, err := idx.open(ctx, opts.Location)
	if err == nil {
		return &target{store: store}, nil
	}

	backup, berr := storage.OpenBackupLog(opts.BackupDir)
	if berr != nil {
		return nil, fmt.Errorf("store unavailable (%v) and backup log failed: %w", err, berr)
	}
	idx.logger.Warn("vector store unavailable, falling back to in-memory store with backup log",
		zap.String("location", opts.Location),
		zap.String("backup", backup.Path()),
		zap.Error(err))
	return &target{store: storage.NewMemoryStore(), backup: backup}, nil
}

// Store embeds chunks batch by batch and upserts them under their
// deterministic ids. Stored counts records written to either backend; an
// error aborts the run and no statistics are returned.
func (idx *Indexer) Store(ctx context.Context, chunks []types.Chunk, opts Options) (*Statistics, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if !opts.Dummy && idx.embed == nil {
		return nil, ErrNoModel
	}

	start := time.Now()
	stats := &Statistics{Collection: opts.Collection}

	t, err := idx.openTarget(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := t.close(); err != nil {
			idx.logger.Warn("failed to close store", zap.Error(err))
		}
	}()
	if t.backup != nil {
		stats.Fallback = true
		stats.BackupPath = t.backup.Path()
	}

	coll, err := t.store.GetOrCreateCollection(ctx, opts.Collection, idx.dimension(ctx, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}

	for begin := 0; begin < len(chunks); begin += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(begin+opts.BatchSize, len(chunks))
		n, err := idx.storeBatch(ctx, coll, t.backup, chunks[begin:end], opts)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", stats.Batches, err)
		}
		stats.Stored += n
		stats.Batches++
	}

	stats.Duration = time.Since(start)
	idx.logger.Info("stored chunks",
		zap.String("collection", opts.Collection),
		zap.Int("stored", stats.Stored),
		zap.Int("batches", stats.Batches),
		zap.Bool("fallback", stats.Fallback),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// dimension is the vector length the collection is created with so every
// backend creates it even when no record follows. 0 defers to the first upsert.
func (idx *Indexer) dimension(ctx context.Context, opts Options) int {
	if opts.Dummy {
		return DummyDimension
	}
	if d, ok := idx.embed.(dimensioner); ok {
		return d.Dimension(ctx, opts.ModelID)
	}
	return 0
}

func (idx *Indexer) storeBatch(ctx context.Context, coll storage.Collection, backup *storage.BackupLog, batch []types.Chunk, opts Options) (int, error) {
	ids := make([]string, len(batch))
	docs := make([]string, len(batch))
	metas := make([]types.ChunkMetadata, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID()
		docs[i] = batch[i].Content
		metas[i] = batch[i].Metadata
	}

	vectors, err := idx.vectors(ctx, docs, opts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("got %d embeddings for %d chunks", len(vectors), len(batch))
	}

	if err := coll.Upsert(ctx, ids, docs, metas, vectors); err != nil {
		return 0, fmt.Errorf("upsert failed: %w", err)
	}

	if backup != nil {
		records := make([]storage.Record, len(batch))
		for i := range batch {
			records[i] = storage.Record{ID: ids[i], Document: docs[i], Metadata: metas[i], Embedding: vectors[i]}
		}
		if err := backup.Append(records); err != nil {
			return 0, err
		}
	}
	return len(batch), nil
}

func (idx *Indexer) vectors(ctx context.Context, docs []string, opts Options) ([][]float32, error) {
	if opts.Dummy {
		out := make([][]float32, len(docs))
		for i := range out {
			out[i] = make([]float32, DummyDimension)
		}
		return out, nil
	}
	return idx.embed.Embed(ctx, docs, opts.ModelID)
}

// StoreFile loads a chunk JSONL file and stores its records
func (idx *Indexer) StoreFile(ctx context.Context, chunksPath string, opts Options) (*Statistics, error) {
	chunks, err := chunker.LoadChunksFile(chunksPath)
	if err != nil {
		return nil, err
	}
	return idx.Store(ctx, chunks, opts)
}

// RestoreBackup replays a backup log into the persistent store without
// re-embedding. It does not fall back: the point is durability.
func (idx *Indexer) RestoreBackup(ctx context.Context, backupPath string, opts Options) (*Statistics, error) {
	if opts.Collection == "" {
		return nil, ErrNoCollection
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	records, err := storage.ReadBackupLog(backupPath)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	store, err := idx.open(ctx, opts.Location)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	dim := 0
	if len(records) > 0 {
		dim = len(records[0].Embedding)
	}
	coll, err := store.GetOrCreateCollection(ctx, opts.Collection, dim)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}

	stats := &Statistics{Collection: opts.Collection}
	for begin := 0; begin < len(records); begin += opts.BatchSize {
		end := min(begin+opts.BatchSize, len(records))
		batch := records[begin:end]

		ids := make([]string, len(batch))
		docs := make([]string, len(batch))
		metas := make([]types.ChunkMetadata, len(batch))
		vecs := make([][]float32, len(batch))
		for i, r := range batch {
			ids[i], docs[i], metas[i], vecs[i] = r.ID, r.Document, r.Metadata, r.Embedding
		}
		if err := coll.Upsert(ctx, ids, docs, metas, vecs); err != nil {
			return nil, fmt.Errorf("restore batch %d: %w", stats.Batches, err)
		}
		stats.Stored += len(batch)
		stats.Batches++
	}

	stats.Duration = time.Since(start)
	idx.logger.Info("restored backup",
		zap.String("path", backupPath),
		zap.String("collection", opts.Collection),
		zap.Int("stored", stats.Stored))
	return stats, nil
}
