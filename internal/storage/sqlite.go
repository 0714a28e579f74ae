package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/hybridsearch/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer; also keeps :memory: on one connection
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance, creating the
// parent directory of dbPath when needed
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != MemoryPath && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Document operations

// SaveDocuments replaces each document and its chunks and embeddings in one transaction
func (s *SQLiteStorage) SaveDocuments(ctx context.Context, docs []*types.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	docStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, path, title, abs_path, content_hash, mod_time, size_bytes, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			title = excluded.title,
			abs_path = excluded.abs_path,
			content_hash = excluded.content_hash,
			mod_time = excluded.mod_time,
			size_bytes = excluded.size_bytes,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare document statement: %w", err)
	}
	defer func() { _ = docStmt.Close() }()

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, content, content_hash, token_count, byte_offset, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk statement: %w", err)
	}
	defer func() { _ = chunkStmt.Close() }()

	embStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (chunk_id, vector, dimension) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare embedding statement: %w", err)
	}
	defer func() { _ = embStmt.Close() }()

	now := time.Now().UnixNano()
	for _, doc := range docs {
		// Cascades to embeddings
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", doc.ID); err != nil {
			return fmt.Errorf("failed to clear chunks of %s: %w", doc.Path, err)
		}

		if _, err := docStmt.ExecContext(ctx,
			doc.ID, doc.Path, doc.Title, doc.AbsPath, doc.ContentHash[:],
			unixNano(doc.ModTime), doc.Size, now); err != nil {
			return fmt.Errorf("failed to save document %s: %w", doc.Path, err)
		}

		for _, c := range doc.Chunks {
			if _, err := chunkStmt.ExecContext(ctx,
				c.ID, doc.ID, c.Content, c.ContentHash[:], c.TokenCount,
				c.Offset, c.StartLine, c.EndLine); err != nil {
				return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
			}
			if !c.HasEmbedding() {
				continue
			}
			if _, err := embStmt.ExecContext(ctx, c.ID, serializeVector(c.Embedding), len(c.Embedding)); err != nil {
				return fmt.Errorf("failed to save embedding %s: %w", c.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// DeleteDocuments removes documents with their chunks and embeddings
func (s *SQLiteStorage) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// LoadDocuments returns every stored document with its chunks ordered by offset
func (s *SQLiteStorage) LoadDocuments(ctx context.Context) ([]*types.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, title, abs_path, content_hash, mod_time, size_bytes
		FROM documents
		ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	var docs []*types.Document
	byID := make(map[string]*types.Document)
	for rows.Next() {
		var (
			doc     types.Document
			title   sql.NullString
			hash    []byte
			modTime sql.NullInt64
			size    sql.NullInt64
		)
		if err := rows.Scan(&doc.ID, &doc.Path, &title, &doc.AbsPath, &hash, &modTime, &size); err != nil {
			_ = rows.Close()
			return nil, err
		}
		doc.Title = title.String
		copy(doc.ContentHash[:], hash)
		if modTime.Valid {
			doc.ModTime = time.Unix(0, modTime.Int64)
		}
		doc.Size = size.Int64

		docs = append(docs, &doc)
		byID[doc.ID] = &doc
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.content, c.content_hash, c.token_count,
		       c.byte_offset, c.start_line, c.end_line, e.vector
		FROM chunks c
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		ORDER BY c.document_id, c.byte_offset
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			c          types.Chunk
			hash       []byte
			tokenCount sql.NullInt64
			vector     []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &hash, &tokenCount,
			&c.Offset, &c.StartLine, &c.EndLine, &vector); err != nil {
			return nil, err
		}
		copy(c.ContentHash[:], hash)
		c.TokenCount = int(tokenCount.Int64)
		if len(vector) > 0 {
			c.Embedding = deserializeVector(vector)
		}

		if doc, ok := byID[c.DocumentID]; ok {
			doc.Chunks = append(doc.Chunks, &c)
		}
	}
	return docs, rows.Err()
}

// FileHashes returns the stored content hash of every document by relative path
func (s *SQLiteStorage) FileHashes(ctx context.Context) (map[string][32]byte, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, content_hash FROM documents")
	if err != nil {
		return nil, fmt.Errorf("failed to query hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[string][32]byte)
	for rows.Next() {
		var (
			path string
			raw  []byte
			hash [32]byte
		)
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, err
		}
		copy(hash[:], raw)
		hashes[path] = hash
	}
	return hashes, rows.Err()
}

// Metadata operations

// GetMeta returns the value stored under key, or ErrNotFound
func (s *SQLiteStorage) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM index_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetMeta stores value under key
func (s *SQLiteStorage) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Status operations

// Stats counts stored rows and reports the database size
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{BuildMode: BuildMode}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM chunks", &stats.Chunks},
		{"SELECT COUNT(*) FROM embeddings", &stats.Embeddings},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(indexed_at) FROM documents").Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		stats.LastIndexedAt = time.Unix(0, last.Int64)
	}

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	stats.SchemaVersion = version.String()

	// Calculate database size
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.SizeBytes = pageCount * pageSize
	}

	return stats, nil
}

func unixNano(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}
