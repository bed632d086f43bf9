// Package session keeps the small durable state the gateway carries between
// restarts: submit idempotency keys and the order ids they produced. The
// ledger itself is deliberately not persisted.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS idempotency (
	key        TEXT PRIMARY KEY,
	order_id   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);`

// Store wraps the SQLite handle for the idempotency table.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the store at path. ":memory:" works for
// tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("session store path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the order id previously stored for key, or "" when the key
// was never seen.
func (s *Store) Lookup(ctx context.Context, key string) (string, error) {
	var orderID string
	err := s.db.QueryRowContext(ctx,
		`SELECT order_id FROM idempotency WHERE key = ?`, key).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return orderID, nil
}

// Remember records the order id produced by a submit under its idempotency
// key.
func (s *Store) Remember(ctx context.Context, key, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO idempotency (key, order_id, created_at) VALUES (?, ?, ?)`,
		key, orderID, time.Now().Unix())
	return err
}
