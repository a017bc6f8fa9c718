// Package session runs the login-affordance engine for one page.
//
// A Session owns a single loop goroutine. Scanning, the processed set,
// click-handler bookkeeping and markers are only touched from that loop;
// mutation callbacks, storage results and relay messages are posted to it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/lastused/dom"
	"github.com/hazyhaar/lastused/internal/annotate"
	"github.com/hazyhaar/lastused/internal/scan"
	"github.com/hazyhaar/lastused/internal/site"
	"github.com/hazyhaar/lastused/internal/store"
	"github.com/hazyhaar/lastused/provider"
	"github.com/hazyhaar/lastused/relay"
)

// ErrClosed is returned by calls made after the session has stopped.
var ErrClosed = errors.New("session: closed")

// Config for a Session.
type Config struct {
	ID       string
	Document dom.Document
	Scanner  *scan.Scanner
	Recall   annotate.Recall
	Catalog  *provider.Catalog
	Label    string
	// RescanDelay is the coalescing window for structural changes.
	RescanDelay time.Duration
	Logger      *slog.Logger
}

// Stats is a snapshot of the loop's counters.
type Stats struct {
	Scans     int  `json:"scans"`
	Resets    int  `json:"resets"`
	Processed int  `json:"processed"`
	Matched   int  `json:"matched"`
	Tracked   int  `json:"tracked"`
	Markers   int  `json:"markers"`
	Ready     bool `json:"ready"`
}

// Session is one page under observation.
type Session struct {
	id      string
	doc     dom.Document
	scanner *scan.Scanner
	bridge  *annotate.Bridge
	rescan  *scan.Rescan
	logger  *slog.Logger

	tasks  chan func()
	signal chan struct{}
	added  atomic.Int64
	reset  atomic.Bool

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once

	// loop-owned
	ready   bool
	scans   int
	resets  int
	matched int
}

// New returns an unstarted session.
func New(cfg Config) (*Session, error) {
	if cfg.Document == nil {
		return nil, errors.New("session: nil document")
	}
	if cfg.Recall == nil {
		return nil, errors.New("session: nil recall store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Scanner == nil {
		sc, err := scan.New(scan.Config{Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		cfg.Scanner = sc
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Document.URL()
	}

	s := &Session{
		id:      cfg.ID,
		doc:     cfg.Document,
		scanner: cfg.Scanner,
		rescan:  scan.NewRescan(cfg.RescanDelay),
		logger:  cfg.Logger.With("session", cfg.ID),
		tasks:   make(chan func(), 64),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.bridge = annotate.New(annotate.Config{
		Document: cfg.Document,
		Recall:   cfg.Recall,
		Post:     s.post,
		Catalog:  cfg.Catalog,
		Label:    cfg.Label,
		Logger:   s.logger,
	})
	return s, nil
}

// ID implements relay.Tab.
func (s *Session) ID() string { return s.id }

// URL returns the observed document's URL.
func (s *Session) URL() string { return s.doc.URL() }

// Start launches the loop. It waits for the document to be ready, scans once,
// then follows structural changes until ctx ends or Close is called.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.run(ctx)
	})
}

// Close stops the loop and waits for it, then for in-flight storage calls.
func (s *Session) Close() {
	s.startOnce.Do(func() { close(s.done) })
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	s.bridge.Wait()
}

// Done is closed when the loop exits.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.rescan.Stop()

	readyC := make(chan error, 1)
	go func() { readyC <- s.doc.Ready(ctx) }()

	var stopObserve func()
	defer func() {
		if stopObserve != nil {
			stopObserve()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readyC:
			readyC = nil
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("session: document never became ready", "error", err)
				}
				return
			}
			s.ready = true
			s.scan(ctx, "initial", 0)

			stop, err := s.doc.Observe(ctx, s.onMutation)
			if err != nil {
				s.logger.Warn("session: observe", "error", err)
				continue
			}
			stopObserve = stop

		case <-s.signal:
			n := s.added.Swap(0)
			if s.reset.Swap(false) && s.ready {
				s.restart(ctx)
				continue
			}
			if s.rescan.Notify(int(n)) {
				s.logger.Debug("session: rescan armed", "added", n)
			}

		case <-s.rescan.C():
			s.scan(ctx, "mutation", s.rescan.Fired())

		case fn := <-s.tasks:
			fn()
		}
	}
}

// restart treats a replaced document like a fresh load: nothing from the old
// one is kept and the new one gets an initial scan.
func (s *Session) restart(ctx context.Context) {
	s.rescan.Stop()
	s.scanner.Reset()
	s.bridge.Reset()
	s.resets++
	s.scan(ctx, "reset", 0)
}

// onMutation runs on the adapter's goroutine and never blocks.
func (s *Session) onMutation(m dom.Mutation) {
	switch {
	case m.Reset:
		s.reset.Store(true)
	case m.Added > 0:
		s.added.Add(int64(m.Added))
	default:
		return
	}
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Session) scan(ctx context.Context, reason string, batches int) {
	res, err := s.scanner.Scan(ctx, s.doc)
	s.scans++
	if err != nil {
		s.logger.Warn("session: scan", "reason", reason, "error", err)
		return
	}
	s.bridge.Prune()
	for _, d := range res.Detections {
		s.bridge.Track(ctx, d)
	}
	s.matched += len(res.Detections)
	s.logger.Debug("session: scanned",
		"reason", reason,
		"batches", batches,
		"visited", res.Visited,
		"new", res.New,
		"failed", res.Failed,
		"matched", len(res.Detections),
	)
}

// post schedules fn on the loop. It is dropped once the loop has exited.
func (s *Session) post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// do runs fn on the loop and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		fn()
		close(finished)
	}
	select {
	case s.tasks <- task:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rescan runs a scan now, outside the coalescing window.
func (s *Session) Rescan(ctx context.Context) error {
	return s.do(ctx, func() { s.scan(ctx, "manual", 0) })
}

// Stats returns the loop counters.
func (s *Session) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.do(ctx, func() {
		st = Stats{
			Scans:     s.scans,
			Resets:    s.resets,
			Processed: s.scanner.Processed(),
			Matched:   s.matched,
			Tracked:   s.bridge.Tracked(),
			Markers:   s.bridge.Markers(),
			Ready:     s.ready,
		}
	})
	return st, err
}

// Settle waits until every storage call started so far has completed and its
// result has been applied.
func (s *Session) Settle(ctx context.Context) error {
	waited := make(chan struct{})
	go func() {
		s.bridge.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.do(ctx, func() {})
}

// Deliver implements relay.Tab. A change to this page's domain record
// re-evaluates the markers on every tracked element.
func (s *Session) Deliver(ctx context.Context, msg relay.Message) error {
	if msg.Type != relay.StorageChanged {
		return nil
	}
	key := store.Key(site.Domain(s.doc.URL()))
	for _, c := range msg.Changes {
		if c.Key != key {
			continue
		}
		value, present := c.NewValue, !c.Removed
		select {
		case s.tasks <- func() { s.bridge.Refresh(value, present) }:
		case <-s.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
