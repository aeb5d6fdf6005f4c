package requestcache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteBackend persists entries in a SQLite database so the cache survives
// restarts. Deleting the file is always safe.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the cache database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	backend := NewSQLiteBackend(db)
	backend.path = path
	if err := backend.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

// NewSQLiteBackend wraps an already-open database. The schema must exist.
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

// Path returns the database file location, empty for wrapped handles.
func (s *SQLiteBackend) Path() string {
	return s.path
}

func (s *SQLiteBackend) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("init cache schema: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body, created_at, ttl_ms, checksum FROM cache_entries WHERE key = ?`, key)

	var (
		body     []byte
		created  string
		ttlMS    int64
		checksum string
	)
	if err := row.Scan(&body, &created, &ttlMS, &checksum); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("get cache entry: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Entry{}, false, fmt.Errorf("parse created_at: %w", err)
	}
	sum, err := strconv.ParseUint(checksum, 16, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("parse checksum: %w", err)
	}
	return Entry{
		Key:       key,
		Body:      body,
		CreatedAt: createdAt,
		TTL:       time.Duration(ttlMS) * time.Millisecond,
		Checksum:  sum,
	}, true, nil
}

func (s *SQLiteBackend) Put(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, body, created_at, ttl_ms, checksum)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET
            body = excluded.body,
            created_at = excluded.created_at,
            ttl_ms = excluded.ttl_ms,
            checksum = excluded.checksum`,
		entry.Key,
		entry.Body,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		entry.TTL.Milliseconds(),
		formatChecksum(entry.Checksum),
	)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Stats(ctx context.Context) (int, int64, error) {
	var (
		count int
		size  sql.NullInt64
	)
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1), SUM(LENGTH(body)) FROM cache_entries`)
	if err := row.Scan(&count, &size); err != nil {
		return 0, 0, fmt.Errorf("cache stats: %w", err)
	}
	return count, size.Int64, nil
}

// Close closes the underlying database connection.
func (s *SQLiteBackend) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func formatChecksum(sum uint64) string {
	return strconv.FormatUint(sum, 16)
}
