package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dshills/repoexplain/pkg/types"
)

// DBFileName is the database file created inside a sqlite store directory
const DBFileName = "vectors.db"

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens the database at dbPath (":memory:" allowed) and
// applies migrations
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteDir creates dir if needed and opens DBFileName inside it
func OpenSQLiteDir(dir string) (*SQLiteStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return NewSQLiteStore(filepath.Join(dir, DBFileName))
}

// OpenExistingSQLiteDir opens DBFileName inside dir without creating the
// directory or the database file. A missing file yields ErrStoreNotFound.
func OpenExistingSQLiteDir(dir string) (*SQLiteStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	dbPath := filepath.Join(dir, DBFileName)
	info, err := os.Stat(dbPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, dbPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat store: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("store path %s is a directory", dbPath)
	}
	return NewSQLiteStore(dbPath)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetOrCreateCollection(ctx context.Context, name string, dimension int) (Collection, error) {
	if name == "" {
		return nil, ErrInvalidCollection
	}
	if dimension < 0 {
		dimension = 0
	}

	query := `
		INSERT INTO collections (name, dimension) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			dimension = CASE WHEN collections.dimension = 0 THEN excluded.dimension ELSE collections.dimension END
		RETURNING id, dimension
	`
	c := &sqliteCollection{db: s.db, name: name}
	if err := s.db.QueryRowContext(ctx, query, name, dimension).Scan(&c.id, &c.dimension); err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
	}
	if dimension > 0 && c.dimension != dimension {
		return nil, fmt.Errorf("%w: collection %s has %d dims, requested %d", ErrDimensionMismatch, name, c.dimension, dimension)
	}
	return c, nil
}

func (s *SQLiteStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	c := &sqliteCollection{db: s.db, name: name}
	err := s.db.QueryRowContext(ctx, "SELECT id, dimension FROM collections WHERE name = ?", name).Scan(&c.id, &c.dimension)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	query := `
		SELECT c.name, c.dimension, COUNT(r.id)
		FROM collections c
		LEFT JOIN records r ON r.collection_id = c.id
		GROUP BY c.id
		ORDER BY c.name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []CollectionInfo
	for rows.Next() {
		var info CollectionInfo
		if err := rows.Scan(&info.Name, &info.Dimension, &info.Count); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) DeleteCollection(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	return nil
}

// sqliteCollection is a handle on one row of the collections table
type sqliteCollection struct {
	db        *sql.DB
	id        int64
	name      string
	dimension int
}

func (c *sqliteCollection) Name() string {
	return c.name
}

func (c *sqliteCollection) Upsert(ctx context.Context, ids, documents []string, metadatas []types.ChunkMetadata, embeddings [][]float32) error {
	if err := validateUpsert(ids, documents, metadatas, embeddings); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	dim := len(embeddings[0])
	if c.dimension != 0 && dim != c.dimension {
		return fmt.Errorf("%w: collection %s has %d dims, got %d", ErrDimensionMismatch, c.name, c.dimension, dim)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if c.dimension == 0 {
		if _, err := tx.ExecContext(ctx, "UPDATE collections SET dimension = ? WHERE id = ?", dim, c.id); err != nil {
			return fmt.Errorf("failed to set collection dimension: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (collection_id, id, document, repo, file_path, file_type, chunk_index, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(collection_id, id) DO UPDATE SET
			document = excluded.document,
			repo = excluded.repo,
			file_path = excluded.file_path,
			file_type = excluded.file_type,
			chunk_index = excluded.chunk_index,
			embedding = excluded.embedding,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, id := range ids {
		m := metadatas[i]
		if _, err := stmt.ExecContext(ctx, c.id, id, documents[i],
			m.Repo, m.FilePath, string(m.FileType), m.ChunkIndex, serializeVector(embeddings[i])); err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	c.dimension = dim
	return nil
}

func (c *sqliteCollection) Get(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `
		SELECT id, document, repo, file_path, file_type, chunk_index, embedding
		FROM records
		WHERE collection_id = ? AND id IN (` + placeholders + `)`
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, c.id)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]Record, len(ids))
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			records = append(records, r)
		}
	}
	return records, nil
}

func (c *sqliteCollection) Query(ctx context.Context, vector []float32, n int, where *Where) ([]Match, error) {
	if n <= 0 {
		return []Match{}, nil
	}
	if c.dimension != 0 && len(vector) != c.dimension {
		return nil, fmt.Errorf("%w: collection %s has %d dims, query has %d", ErrDimensionMismatch, c.name, c.dimension, len(vector))
	}

	filter, filterArgs, err := whereClause(where)
	if err != nil {
		return nil, err
	}

	// Use SQL-side distance when sqlite-vec is available
	if VectorExtensionAvailable {
		return c.queryOptimized(ctx, vector, n, filter, filterArgs)
	}
	return c.queryFallback(ctx, vector, n, filter, filterArgs)
}

// queryOptimized ranks inside SQLite with vec_distance_cosine
func (c *sqliteCollection) queryOptimized(ctx context.Context, vector []float32, n int, filter string, filterArgs []interface{}) ([]Match, error) {
	query := `
		SELECT id, document, repo, file_path, file_type, chunk_index, embedding,
		       vec_distance_cosine(embedding, ?) AS distance
		FROM records
		WHERE collection_id = ?` + filter + `
		ORDER BY distance ASC, id ASC
		LIMIT ?`
	args := []interface{}{serializeVector(vector), c.id}
	args = append(args, filterArgs...)
	args = append(args, n)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	matches := make([]Match, 0, n)
	for rows.Next() {
		var (
			m    Match
			blob []byte
		)
		if err := rows.Scan(&m.ID, &m.Document, &m.Metadata.Repo, &m.Metadata.FilePath,
			&m.Metadata.FileType, &m.Metadata.ChunkIndex, &blob, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		m.Embedding = deserializeVector(blob)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// queryFallback loads candidate vectors and ranks them in Go
func (c *sqliteCollection) queryFallback(ctx context.Context, vector []float32, n int, filter string, filterArgs []interface{}) ([]Match, error) {
	query := `
		SELECT id, document, repo, file_path, file_type, chunk_index, embedding
		FROM records
		WHERE collection_id = ?` + filter
	args := append([]interface{}{c.id}, filterArgs...)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []Match
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{Record: r, Distance: cosineDistance(vector, r.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankMatches(matches, n), nil
}

func (c *sqliteCollection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE collection_id = ?", c.id).Scan(&n)
	return n, err
}

var filterColumns = map[types.MetadataField]string{
	types.FieldRepo:       "repo",
	types.FieldFilePath:   "file_path",
	types.FieldFileType:   "file_type",
	types.FieldChunkIndex: "chunk_index",
}

// whereClause renders a filter as " AND column = ?" with its argument
func whereClause(where *Where) (string, []interface{}, error) {
	if where == nil {
		return "", nil, nil
	}
	column, ok := filterColumns[where.Field]
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, where.Field)
	}
	if where.Field == types.FieldChunkIndex {
		idx, err := strconv.Atoi(where.Value)
		if err != nil {
			return "", nil, fmt.Errorf("%w: chunk_index must be an integer", ErrInvalidFilter)
		}
		return " AND " + column + " = ?", []interface{}{idx}, nil
	}
	return " AND " + column + " = ?", []interface{}{where.Value}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(rows rowScanner) (Record, error) {
	var (
		r    Record
		blob []byte
	)
	if err := rows.Scan(&r.ID, &r.Document, &r.Metadata.Repo, &r.Metadata.FilePath,
		&r.Metadata.FileType, &r.Metadata.ChunkIndex, &blob); err != nil {
		return Record{}, fmt.Errorf("failed to scan record: %w", err)
	}
	r.Embedding = deserializeVector(blob)
	return r, nil
}
