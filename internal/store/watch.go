package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// WatchOptions tunes external-change detection.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 500ms.
	Interval time.Duration
	// Debounce is the quiet period after a version bump before the table is
	// re-read. Further bumps inside the window restart it. Default: 100ms.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 500 * time.Millisecond
	}
	if o.Debounce <= 0 {
		o.Debounce = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watch detects writes made by other processes sharing the database file and
// reports them to subscribers like local writes. It polls PRAGMA
// data_version on a dedicated connection and blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, opts WatchOptions) error {
	opts.defaults()
	log := opts.Logger

	if s.memory {
		return errors.New("store: watch needs a file-backed database")
	}

	conn, err := s.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("store: watch conn: %w", err)
	}
	defer conn.Close()

	if err := s.loadKnown(ctx); err != nil {
		return err
	}
	defer func() {
		s.mu.Lock()
		s.known = nil
		s.mu.Unlock()
	}()

	readVersion := func() (int64, error) {
		var v int64
		err := conn.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v)
		return v, err
	}

	version, err := readVersion()
	if err != nil {
		return fmt.Errorf("store: data_version: %w", err)
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	log.Info("store: watching for external writes", "interval", opts.Interval)
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case <-ticker.C:
			cur, err := readVersion()
			if err != nil {
				log.Warn("store: data_version check failed", "error", err)
				continue
			}
			if cur == version {
				continue
			}
			version = cur
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(opts.Debounce)
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			changes, err := s.diffKnown(ctx)
			if err != nil {
				log.Warn("store: reload after external write failed", "error", err)
				continue
			}
			if len(changes) > 0 {
				log.Debug("store: external changes", "count", len(changes))
				s.notify(changes)
			}
		}
	}
}

func (s *Store) loadKnown(ctx context.Context) error {
	entries, err := s.GetAll(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]string, len(entries))
	for _, e := range entries {
		known[e.Key] = e.Value
	}
	s.mu.Lock()
	s.known = known
	s.mu.Unlock()
	return nil
}

// diffKnown re-reads the table and returns what differs from the mirror.
func (s *Store) diffKnown(ctx context.Context) ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var changes []Change
	current := make(map[string]string, len(entries))
	for _, e := range entries {
		current[e.Key] = e.Value
		old, ok := s.known[e.Key]
		if !ok || old != e.Value {
			changes = append(changes, Change{Key: e.Key, OldValue: old, NewValue: e.Value})
		}
	}
	for k, old := range s.known {
		if _, ok := current[k]; !ok {
			changes = append(changes, Change{Key: k, OldValue: old, Removed: true})
		}
	}
	s.known = current
	return changes, nil
}
