// Package store provides the durable key-value store backing the sync queue.
//
// The store is an embedded SQLite database (ncruces/go-sqlite3) opened in
// WAL mode. Values are opaque byte slices; the queue layer serializes its
// whole collection into a single key and performs read-modify-write cycles
// at that granularity, inside Update transactions so the cycle is atomic
// against concurrent writers of the same file. Nothing in this package
// interprets values.
//
// The caller MUST call Close() when done to ensure the WAL is checkpointed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned by Get when the key has no stored value.
var ErrNotFound = errors.New("store: key not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store wraps the SQLite connection holding durable sync state.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a store at the specified path.
//
// The parent directory is created if missing. The database is opened in
// embedded mode with WAL for concurrent reads and a 5 second busy timeout.
//
// Example:
//
//	st, err := store.Open(filepath.Join(dataDir, "fieldsync.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them, and
	// _txlock=immediate makes Update take the database write lock up
	// front instead of on the first write.
	dsn := "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=journal_mode(wal)" +
		"&_pragma=busy_timeout(5000)"

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the kv table if it doesn't exist. Idempotent.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Path returns the filesystem path of the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// Get returns the value stored under key.
// Returns ErrNotFound if the key has never been written.
func (s *Store) Get(key string) ([]byte, error) {
	return s.GetContext(context.Background(), key)
}

// GetContext returns the value stored under key with context support.
func (s *Store) GetContext(ctx context.Context, key string) ([]byte, error) {
	if s.conn == nil {
		return nil, ErrClosed
	}
	var value []byte
	err := s.conn.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

// Put writes value under key, replacing any previous value.
//
// The write is a single upsert statement, so readers never observe a
// partially written value.
func (s *Store) Put(key string, value []byte) error {
	return s.PutContext(context.Background(), key, value)
}

// PutContext writes value under key with context support.
func (s *Store) PutContext(ctx context.Context, key string, value []byte) error {
	if s.conn == nil {
		return ErrClosed
	}
	query := `
	INSERT INTO kv (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Tx is a transactional view of the store, valid only inside Update.
type Tx struct {
	tx *sql.Tx
}

// Get returns the value stored under key within the transaction.
func (t *Tx) Get(key string) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

// Put writes value under key within the transaction.
func (t *Tx) Put(key string, value []byte) error {
	query := `
	INSERT INTO kv (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := t.tx.Exec(query, key, value, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Update runs fn inside a write transaction.
//
// The transaction holds the database write lock for its whole duration,
// so a read-modify-write cycle in fn is atomic against every other
// writer of the file, including other processes. A non-nil error from
// fn rolls the transaction back.
func (s *Store) Update(fn func(*Tx) error) error {
	return s.UpdateContext(context.Background(), fn)
}

// UpdateContext runs fn inside a write transaction with context support.
func (s *Store) UpdateContext(ctx context.Context, fn func(*Tx) error) error {
	if s.conn == nil {
		return ErrClosed
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete removes key from the store.
// Returns nil if the key doesn't exist (idempotent).
func (s *Store) Delete(key string) error {
	return s.DeleteContext(context.Background(), key)
}

// DeleteContext removes key with context support.
func (s *Store) DeleteContext(ctx context.Context, key string) error {
	if s.conn == nil {
		return ErrClosed
	}
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}
