package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Entry is one key-value pair.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Change describes one key mutation. Removed is set when the key no longer
// exists; NewValue is then empty.
type Change struct {
	Key      string `json:"key"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
}

// Get returns the value stored under key. A missing key is ("", false, nil).
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return v, true, nil
}

// GetAll returns every entry in enumeration order.
func (s *Store) GetAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key, value FROM kv ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: get all: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Set writes value under key, replacing any previous value. The key keeps its
// enumeration position on overwrite.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	old, existed, err := s.Get(ctx, key)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	if s.known != nil {
		s.known[key] = value
	}
	s.mu.Unlock()

	if existed && old == value {
		return nil
	}
	s.notify([]Change{{Key: key, OldValue: old, NewValue: value}})
	return nil
}

// Remove deletes keys. Missing keys are ignored.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	s.mu.Lock()
	var changes []Change
	for _, chunk := range chunkKeys(keys, 500) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}

		rows, err := s.DB.QueryContext(ctx,
			`DELETE FROM kv WHERE key IN (`+placeholders+`) RETURNING key, value`, args...)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("store: remove: %w", err)
		}
		for rows.Next() {
			var c Change
			if err := rows.Scan(&c.Key, &c.OldValue); err != nil {
				rows.Close()
				s.mu.Unlock()
				return fmt.Errorf("store: remove scan: %w", err)
			}
			c.Removed = true
			changes = append(changes, c)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("store: remove: %w", err)
		}
	}
	if s.known != nil {
		for _, c := range changes {
			delete(s.known, c.Key)
		}
	}
	s.mu.Unlock()

	s.notify(changes)
	return nil
}

// Subscribe registers fn for every batch of changes. The returned function
// cancels the subscription. fn runs on the writer's goroutine and must not
// block.
func (s *Store) Subscribe(fn func([]Change)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	fns := make([]func([]Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(changes)
	}
}

func chunkKeys(keys []string, n int) [][]string {
	var out [][]string
	for len(keys) > n {
		out = append(out, keys[:n])
		keys = keys[n:]
	}
	return append(out, keys)
}
