// Package sqlite provides an embedded SQLite store for offlinecache.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codeGROOVE-dev/offlinecache/pkg/store"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/compress"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// defaultPageSize is SQLite's page size for new databases.
const defaultPageSize = 4096

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
) WITHOUT ROWID`

// Store keeps entries in a single SQLite table.
type Store struct {
	db         *sql.DB
	compressor compress.Compressor
	quota      int64
}

// Option configures a Store.
type Option func(*Store)

// WithCompression sets the compressor applied to values.
func WithCompression(c compress.Compressor) Option {
	return func(s *Store) {
		if c != nil {
			s.compressor = c
		}
	}
}

// WithQuota caps the database size. Enforced by SQLite's max_page_count.
func WithQuota(bytes int64) Option {
	return func(s *Store) {
		s.quota = bytes
	}
}

// Open opens (or creates) the database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	s := &Store{compressor: compress.None()}
	for _, opt := range opts {
		opt(s)
	}

	dsn := filepath.Clean(path)
	if s.quota > 0 {
		// Per-connection pragma, applied by the driver to every new connection.
		dsn += fmt.Sprintf("?_pragma=max_page_count(%d)", max(s.quota/defaultPageSize, 1))
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w: %w", err, store.ErrUnavailable)
	}
	db.SetMaxOpenConns(1)
	s.db = db

	if err := s.init(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w: %w", err, store.ErrUnavailable)
	}
	return nil
}

// Get retrieves a value.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(fmt.Errorf("select %q: %w", key, err))
	}
	v, err := s.compressor.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("decompress %q: %w: %w", key, store.ErrCorrupt, err)
	}
	return v, true, nil
}

// Set upserts a value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	data, err := s.compressor.Encode(value)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, time.Now().UnixNano())
	if err != nil {
		return classify(fmt.Errorf("upsert %q: %w", key, err))
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return classify(fmt.Errorf("delete %q: %w", key, err))
	}
	return nil
}

// Keys lists keys with the given prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key", utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, classify(fmt.Errorf("list keys: %w", err))
	}
	defer func() { _ = rows.Close() }() //nolint:errcheck // read-only cursor

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return keys, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// classify maps SQLite result codes onto store error kinds.
func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_FULL:
		return fmt.Errorf("%w: %w", err, store.ErrQuotaExceeded)
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_READONLY, sqlite3.SQLITE_PERM:
		return fmt.Errorf("%w: %w", err, store.ErrUnavailable)
	default:
		return err
	}
}
