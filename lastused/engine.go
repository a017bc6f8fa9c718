// Package lastused remembers which third-party login a person used on each
// site and marks that button the next time they visit.
//
// The Engine ties the pieces together:
//
//	page (rod or static) → scan → annotate ⇄ recall store → relay → other pages
//
// Usage:
//
//	eng, err := lastused.New(cfg, logger)
//	defer eng.Stop()
//	eng.Start(ctx)                       // sweep, broadcast, configured pages
//	eng.ObservePage(ctx, lastused.PageConfig{URL: "https://example.com/login"})
//	http.ListenAndServe(addr, eng.Handler())
//	eng.RegisterMCP(mcpServer)
package lastused

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hazyhaar/lastused/dom"
	"github.com/hazyhaar/lastused/internal/browser"
	"github.com/hazyhaar/lastused/internal/fetcher"
	"github.com/hazyhaar/lastused/internal/idgen"
	"github.com/hazyhaar/lastused/internal/livepage"
	"github.com/hazyhaar/lastused/internal/scan"
	"github.com/hazyhaar/lastused/internal/session"
	"github.com/hazyhaar/lastused/internal/site"
	"github.com/hazyhaar/lastused/internal/store"
	"github.com/hazyhaar/lastused/popup"
	"github.com/hazyhaar/lastused/provider"
	"github.com/hazyhaar/lastused/relay"
)

// Site is a stored (domain → provider) record.
type Site = store.Site

// Engine is the lastused orchestrator.
type Engine struct {
	cfg     *Config
	logger  *slog.Logger
	catalog *provider.Catalog
	store   *store.Store
	relay   *relay.Relay
	popup   *popup.Popup
	fetcher *fetcher.Fetcher
	browser *browser.Manager

	mu       sync.Mutex
	sessions map[string]*tab
	stopped  bool
}

type tab struct {
	sess       *session.Session
	unregister func()
	closer     io.Closer
}

// New opens the recall store and prepares the engine. Nothing runs until
// Start.
func New(cfg *Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	catalog := provider.DefaultCatalog()
	if len(cfg.Providers) > 0 {
		c, err := provider.NewCatalog(cfg.Providers)
		if err != nil {
			return nil, fmt.Errorf("lastused: %w", err)
		}
		catalog = c
	}
	// Reject a bad selector list before any page is opened.
	if _, err := scan.New(scan.Config{Catalog: catalog, Selectors: cfg.Selectors}); err != nil {
		return nil, fmt.Errorf("lastused: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:     cfg,
		logger:  logger,
		catalog: catalog,
		store:   st,
		relay: relay.New(relay.Config{
			Store:      st,
			MaxRecords: cfg.Retention.MaxRecords,
			Logger:     logger,
		}),
		popup:   popup.New(st, logger),
		fetcher: fetcher.New(fetcher.WithLogger(logger)),
		browser: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Headful:          cfg.Browser.Mode == "headful",
			Stealth:          !cfg.Browser.DisableStealth,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Logger:           logger,
		}),
		sessions: make(map[string]*tab),
	}, nil
}

// Start trims the store, starts broadcasting changes, follows writes from
// other processes on the same database file, and opens the configured pages.
// A page that fails to open is logged and skipped.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.relay.Start(ctx); err != nil {
		return err
	}

	if e.cfg.DBPath != ":memory:" {
		go func() {
			err := e.store.Watch(ctx, store.WatchOptions{
				Interval: e.cfg.Watch.Interval,
				Debounce: e.cfg.Watch.Debounce,
				Logger:   e.logger,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("lastused: store watch stopped", "error", err)
			}
		}()
	}

	for _, p := range e.cfg.Pages {
		if _, err := e.ObservePage(ctx, p); err != nil {
			e.logger.Warn("lastused: observe page", "url", p.URL, "error", err)
		}
	}
	e.logger.Info("lastused: started", "db", e.cfg.DBPath, "pages", len(e.cfg.Pages))
	return nil
}

// ObservePage opens the URL in Chrome and attaches a session to it. The
// session lives until ctx ends, Detach or Stop.
func (e *Engine) ObservePage(ctx context.Context, p PageConfig) (*session.Session, error) {
	page, err := e.browser.Open(ctx, p.URL)
	if err != nil {
		return nil, err
	}
	lp, err := livepage.New(page, e.logger)
	if err != nil {
		page.Close()
		return nil, err
	}
	sess, err := e.attach(ctx, p.ID, lp, lp)
	if err != nil {
		lp.Close()
		return nil, err
	}
	return sess, nil
}

var sessionID = idgen.Prefixed("tab_", idgen.Short(12))

// Attach runs a session on any document. An empty id gets a generated one.
func (e *Engine) Attach(ctx context.Context, id string, doc dom.Document) (*session.Session, error) {
	return e.attach(ctx, id, doc, nil)
}

func (e *Engine) attach(ctx context.Context, id string, doc dom.Document, closer io.Closer) (*session.Session, error) {
	if id == "" {
		id = sessionID()
	}

	sc, err := scan.New(scan.Config{Catalog: e.catalog, Selectors: e.cfg.Selectors, Logger: e.logger})
	if err != nil {
		return nil, fmt.Errorf("lastused: %w", err)
	}
	sess, err := session.New(session.Config{
		ID:          id,
		Document:    doc,
		Scanner:     sc,
		Recall:      e.store,
		Catalog:     e.catalog,
		Label:       e.cfg.Marker.Label,
		RescanDelay: e.cfg.RescanDelay,
		Logger:      e.logger,
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, fmt.Errorf("lastused: engine stopped")
	}
	if _, ok := e.sessions[id]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("lastused: session %q already exists", id)
	}
	t := &tab{sess: sess, unregister: e.relay.Register(sess), closer: closer}
	e.sessions[id] = t
	e.mu.Unlock()

	sess.Start(ctx)
	go func() {
		<-sess.Done()
		e.detach(id, t)
	}()

	e.logger.Info("lastused: session attached", "session", id, "url", doc.URL())
	return sess, nil
}

// Session returns the session with the given id.
func (e *Engine) Session(id string) (*session.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.sessions[id]
	if !ok {
		return nil, false
	}
	return t.sess, true
}

// Sessions returns the ids of attached sessions.
func (e *Engine) Sessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Detach stops a session and releases its page. Unknown ids are ignored.
func (e *Engine) Detach(id string) {
	e.detach(id, nil)
}

// detach removes id if it still maps to want, or unconditionally when want
// is nil.
func (e *Engine) detach(id string, want *tab) {
	e.mu.Lock()
	t, ok := e.sessions[id]
	if ok && (want == nil || t == want) {
		delete(e.sessions, id)
	} else {
		ok = false
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	t.unregister()
	t.sess.Close()
	if t.closer != nil {
		if err := t.closer.Close(); err != nil {
			e.logger.Debug("lastused: close page", "session", id, "error", err)
		}
	}
	e.logger.Info("lastused: session detached", "session", id)
}

// Lookup returns the provider recorded for a domain or URL.
func (e *Engine) Lookup(ctx context.Context, domainOrURL string) (string, bool, error) {
	return e.store.Lookup(ctx, site.Domain(domainOrURL))
}

// Sites returns every record sorted by domain.
func (e *Engine) Sites(ctx context.Context) ([]Site, error) {
	return e.store.Sites(ctx)
}

// Forget removes the record of a domain or URL.
func (e *Engine) Forget(ctx context.Context, domainOrURL string) error {
	return e.store.Forget(ctx, site.Domain(domainOrURL))
}

// ForgetAll removes every record and returns how many were removed.
func (e *Engine) ForgetAll(ctx context.Context) (int, error) {
	return e.store.ForgetAll(ctx)
}

// Handle answers a relay request.
func (e *Engine) Handle(ctx context.Context, req relay.Request) (map[string]any, error) {
	return e.relay.Handle(ctx, req)
}

// Handler returns the popup HTTP surface.
func (e *Engine) Handler() http.Handler {
	return e.popup.Handler()
}

// Store returns the recall store for direct access (testing, admin).
func (e *Engine) Store() *store.Store {
	return e.store
}

// Stop detaches every session, stops broadcasting, closes Chrome and the
// database.
func (e *Engine) Stop() error {
	e.mu.Lock()
	e.stopped = true
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.Detach(id)
	}
	e.relay.Stop()
	if err := e.browser.Close(); err != nil {
		e.logger.Debug("lastused: close browser", "error", err)
	}
	return e.store.Close()
}
