// Package cache implements the delivery cache: a persisted URL to
// transport-handle map that lets repeat requests skip extraction and
// re-encoding entirely.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/shadowgate/internal/domain"
)

// Store persists delivered transport handles keyed by URL.
type Store interface {
	// Get returns the entry for url, if one exists.
	Get(ctx context.Context, url string) (*domain.CacheEntry, bool, error)

	// Put upserts the entry for entry.URL. Last write wins; the
	// updated_at timestamp is refreshed on every write.
	Put(ctx context.Context, entry domain.CacheEntry) error

	// Count returns the number of cached URLs.
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying store.
	Close() error
}

// SQLiteStore implements Store on a single sqlite table.
//
// Entries are never evicted; the table grows without bound. Repeat-URL
// traffic is the whole point of the cache and rows are tiny, so growth is
// accepted and surfaced through Count for operators to watch.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the cache database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time keeps single-row upserts atomic without
	// SQLITE_BUSY handling at call sites.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS cache (
			url TEXT PRIMARY KEY,
			file_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			duration INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the cached entry for url.
func (s *SQLiteStore) Get(ctx context.Context, url string) (*domain.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT file_id, kind, size, duration, updated_at FROM cache WHERE url = ?`, url)

	entry := domain.CacheEntry{URL: url}
	var kind string
	var updatedAt sql.NullTime
	err := row.Scan(&entry.FileID, &kind, &entry.Size, &entry.Duration, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache: %w", err)
	}

	entry.Kind = domain.MediaKind(kind)
	if updatedAt.Valid {
		entry.UpdatedAt = updatedAt.Time
	}
	return &entry, true, nil
}

// Put upserts the entry. A second Put for the same URL fully replaces the
// first row; no stale fields survive.
func (s *SQLiteStore) Put(ctx context.Context, entry domain.CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache(url, file_id, kind, size, duration, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			file_id=excluded.file_id,
			kind=excluded.kind,
			size=excluded.size,
			duration=excluded.duration,
			updated_at=excluded.updated_at
	`, entry.URL, entry.FileID, string(entry.Kind), entry.Size, entry.Duration, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert cache: %w", err)
	}
	return nil
}

// Count returns the number of cached URLs.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
