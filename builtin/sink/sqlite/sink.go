// Package sqlite implements a ChunkSink backed by a SQLite database.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spetr/mcp-codechunk/pkg/provider"
	"github.com/spetr/mcp-codechunk/pkg/types"
)

// SchemaVersion is incremented when schema changes are incompatible.
const SchemaVersion = 1

// Sink stores chunks in a SQLite database, one row per chunk.
type Sink struct {
	db   *sql.DB
	path string
}

// New opens (or creates) the database at cfg.Path.
func New(cfg provider.SinkConfig) (*Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: sqlite sink requires a path", types.ErrInvalidConfig)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent reads, busy_timeout to wait for locks instead of failing immediately
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Sink{db: db, path: cfg.Path}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

// createSchema creates all necessary tables.
func (s *Sink) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			file_path TEXT NOT NULL,
			seq INTEGER NOT NULL,
			language TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT,
			code TEXT NOT NULL,
			start_row INTEGER NOT NULL,
			start_column INTEGER NOT NULL,
			end_row INTEGER NOT NULL,
			end_column INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_path, seq)`); err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS file_cache (
			file_path TEXT PRIMARY KEY,
			file_hash TEXT NOT NULL,
			config_hash TEXT NOT NULL,
			indexed_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion))
	return err
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return "sqlite"
}

// Write replaces the stored chunks of path with chunks.
func (s *Sink) Write(path string, chunks []*types.Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunks WHERE file_path = ?", path); err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO chunks
		(id, file_path, seq, language, kind, name, code, start_row, start_column, end_row, end_column)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range chunks {
		_, err := stmt.Exec(c.ID, path, i, c.Language, c.Kind, c.Name, c.Code,
			c.Range.Start.Row, c.Range.Start.Column, c.Range.End.Row, c.Range.End.Column)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// Remove deletes all chunks and the cached hash stored for path.
func (s *Sink) Remove(path string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunks WHERE file_path = ?", path); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM file_cache WHERE file_path = ?", path); err != nil {
		return err
	}
	return tx.Commit()
}

// GetFileHash returns the cached content and config hashes of a file.
func (s *Sink) GetFileHash(path string) (string, string, error) {
	var fileHash, configHash string
	err := s.db.QueryRow("SELECT file_hash, config_hash FROM file_cache WHERE file_path = ?", path).
		Scan(&fileHash, &configHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	return fileHash, configHash, err
}

// SetFileHash stores the hashes for a file.
func (s *Sink) SetFileHash(path, fileHash, configHash string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO file_cache (file_path, file_hash, config_hash, indexed_at)
		VALUES (?, ?, ?, ?)
	`, path, fileHash, configHash, time.Now())
	return err
}

// GetAllFileHashes returns all cached file hashes.
func (s *Sink) GetAllFileHashes() (map[string]string, error) {
	rows, err := s.db.Query("SELECT file_path, file_hash FROM file_cache")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		hashes[path] = hash
	}
	return hashes, rows.Err()
}

// ChunksByFile returns the stored chunks of path in extraction order.
func (s *Sink) ChunksByFile(path string) ([]*types.Chunk, error) {
	rows, err := s.db.Query(`
		SELECT id, file_path, language, kind, COALESCE(name, ''), code,
		       start_row, start_column, end_row, end_column
		FROM chunks WHERE file_path = ? ORDER BY seq
	`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*types.Chunk
	for rows.Next() {
		c := &types.Chunk{}
		if err := rows.Scan(&c.ID, &c.FilePath, &c.Language, &c.Kind, &c.Name, &c.Code,
			&c.Range.Start.Row, &c.Range.Start.Column, &c.Range.End.Row, &c.Range.End.Column); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunk returns a chunk by ID.
func (s *Sink) GetChunk(id string) (*types.Chunk, error) {
	c := &types.Chunk{}
	err := s.db.QueryRow(`
		SELECT id, file_path, language, kind, COALESCE(name, ''), code,
		       start_row, start_column, end_row, end_column
		FROM chunks WHERE id = ?
	`, id).Scan(&c.ID, &c.FilePath, &c.Language, &c.Kind, &c.Name, &c.Code,
		&c.Range.Start.Row, &c.Range.Start.Column, &c.Range.End.Row, &c.Range.End.Column)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Count returns the number of stored chunks and distinct files.
func (s *Sink) Count() (chunks, files int, err error) {
	err = s.db.QueryRow("SELECT COUNT(*), COUNT(DISTINCT file_path) FROM chunks").Scan(&chunks, &files)
	return chunks, files, err
}

// Close closes the database.
func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var (
	_ provider.ChunkSink     = (*Sink)(nil)
	_ provider.FileHashCache = (*Sink)(nil)
)
