// Package store is the SQLite persistence layer for lastused: a flat
// key-value table holding one record per normalised domain.
//
// Writes are last-write-wins and never span more than one statement. Every
// mutation is reported to subscribers with old and new values, the way a
// browser storage area announces changes.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	_ "modernc.org/sqlite"
)

// Schema is the recall table. Rows are enumerated in rowid order, which is
// the order keys were first written.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store is the recall database handle.
type Store struct {
	DB *sql.DB

	mu     sync.Mutex
	subs   map[int]func([]Change)
	nextID int
	// known mirrors the table while Watch runs, so external writes can be
	// told apart from our own.
	known  map[string]string
	memory bool
}

// Open opens (or creates) the database at path with WAL, busy_timeout and
// synchronous=NORMAL applied, then installs the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	s := New(db)
	s.memory = path == ":memory:"
	return s, nil
}

// New wraps an already-open database. The schema must be applied.
func New(db *sql.DB) *Store {
	return &Store{DB: db, subs: make(map[int]func([]Change))}
}

// OpenMemory opens an in-memory store for tests and closes it on cleanup.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
