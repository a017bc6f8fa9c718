// Package annotate links classified elements to the recall store: clicks
// record the provider for the page's domain, and elements whose provider is
// the recorded one get a marker.
package annotate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/lastused/dom"
	"github.com/hazyhaar/lastused/internal/scan"
	"github.com/hazyhaar/lastused/internal/site"
	"github.com/hazyhaar/lastused/internal/store"
	"github.com/hazyhaar/lastused/provider"
)

// DefaultLabel is the marker text.
const DefaultLabel = "⭐ Last used"

// Recall is the asynchronous side of the recall store.
type Recall interface {
	RecordAsync(ctx context.Context, domain, provider string) <-chan error
	LookupAsync(ctx context.Context, domain string) <-chan store.LookupResult
}

// Config for a Bridge.
type Config struct {
	Document dom.Document
	Recall   Recall
	// Post schedules fn on the goroutine that owns the Bridge. Lookup results
	// are applied through it.
	Post func(fn func())
	// Catalog resolves stored provider names. Default: provider.DefaultCatalog.
	Catalog *provider.Catalog
	Label   string
	Logger  *slog.Logger
}

type tracked struct {
	el       dom.Element
	key      dom.Key
	provider provider.Provider
}

// Bridge is safe for concurrent use. Without Post, lookup results are
// applied on the goroutine that received them, under the bridge lock.
type Bridge struct {
	doc     dom.Document
	recall  Recall
	post    func(func())
	catalog *provider.Catalog
	label   string
	logger  *slog.Logger

	mu      sync.Mutex
	tracked []tracked
	markers map[dom.Key]dom.Marker
	// gen advances on every Refresh and Reset; lookups started before it
	// are stale.
	gen uint64

	pending sync.WaitGroup
}

// New returns a Bridge.
func New(cfg Config) *Bridge {
	if cfg.Label == "" {
		cfg.Label = DefaultLabel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Post == nil {
		cfg.Post = func(fn func()) { fn() }
	}
	if cfg.Catalog == nil {
		cfg.Catalog = provider.DefaultCatalog()
	}
	return &Bridge{
		doc:     cfg.Document,
		recall:  cfg.Recall,
		post:    cfg.Post,
		catalog: cfg.Catalog,
		label:   cfg.Label,
		logger:  cfg.Logger,
		markers: make(map[dom.Key]dom.Marker),
	}
}

// domain is resolved from the current document URL on every use.
func (b *Bridge) domain() string { return site.Domain(b.doc.URL()) }

// Track installs the click recorder on a new detection and starts the
// lookup that decides its marker.
func (b *Bridge) Track(ctx context.Context, d scan.Detection) {
	t := tracked{el: d.Element, key: d.Element.Key(), provider: d.Provider}

	name := d.Provider.Name
	if err := d.Element.OnClick(func() { b.record(ctx, name) }); err != nil {
		b.logger.Debug("annotate: click handler", "provider", name, "error", err)
	}
	b.mu.Lock()
	b.tracked = append(b.tracked, t)
	gen := b.gen
	b.mu.Unlock()

	domain := b.domain()
	if domain == "" {
		return
	}
	ch := b.recall.LookupAsync(ctx, domain)
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		res := <-ch
		b.post(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.gen == gen {
				b.decide(t, res)
			}
		})
	}()
}

// record writes the provider for the current domain without waiting for the
// result. It may run on any goroutine.
func (b *Bridge) record(ctx context.Context, name string) {
	domain := b.domain()
	if domain == "" {
		b.logger.Debug("annotate: click on page without host", "url", b.doc.URL())
		return
	}
	ch := b.recall.RecordAsync(ctx, domain, name)
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		if err := <-ch; err != nil {
			b.logger.Warn("annotate: record", "domain", domain, "provider", name, "error", err)
			return
		}
		b.logger.Debug("annotate: recorded", "domain", domain, "provider", name)
	}()
}

// Refresh re-runs the marker decision for every tracked element against a
// new record value for the page's domain.
func (b *Bridge) Refresh(value string, present bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	res := store.LookupResult{Provider: value, Found: present}
	for _, t := range b.tracked {
		b.decide(t, res)
	}
}

func (b *Bridge) decide(t tracked, res store.LookupResult) {
	if res.Err != nil {
		b.logger.Warn("annotate: lookup", "url", b.doc.URL(), "error", res.Err)
		return
	}
	if res.Found {
		p, ok := b.catalog.Lookup(res.Provider)
		if !ok {
			b.logger.Debug("annotate: stored provider not in catalog", "provider", res.Provider)
		} else if p.Name == t.provider.Name {
			b.mark(t)
			return
		}
	}
	b.unmark(t.key)
}

func (b *Bridge) mark(t tracked) {
	b.unmark(t.key)
	m, err := t.el.AttachMarker(b.label)
	if err != nil {
		b.logger.Debug("annotate: attach marker", "provider", t.provider.Name, "error", err)
		return
	}
	b.markers[t.key] = m
}

func (b *Bridge) unmark(key dom.Key) {
	m, ok := b.markers[key]
	if !ok {
		return
	}
	delete(b.markers, key)
	if err := m.Remove(); err != nil {
		b.logger.Debug("annotate: remove marker", "error", err)
	}
}

// Prune forgets elements that left the document.
func (b *Bridge) Prune() {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.tracked[:0]
	for _, t := range b.tracked {
		if gone(t) {
			delete(b.markers, t.key)
			continue
		}
		kept = append(kept, t)
	}
	clear(b.tracked[len(kept):])
	b.tracked = kept
}

func gone(t tracked) bool {
	if e, ok := t.key.(dom.Expirer); ok && e.Expired() {
		return true
	}
	if c, ok := t.el.(dom.Connector); ok && !c.Connected() {
		return true
	}
	return false
}

// Reset forgets every tracked element and marker without touching the
// document, and invalidates lookups in flight. Use it after the document was
// replaced.
func (b *Bridge) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	clear(b.tracked)
	b.tracked = b.tracked[:0]
	clear(b.markers)
}

// Tracked returns the number of tracked elements.
func (b *Bridge) Tracked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tracked)
}

// Markers returns the number of markers currently rendered.
func (b *Bridge) Markers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.markers)
}

// Wait blocks until every in-flight record and lookup has completed and its
// continuation has been posted.
func (b *Bridge) Wait() { b.pending.Wait() }
