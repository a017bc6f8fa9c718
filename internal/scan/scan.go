// Package scan enumerates candidate login elements in a document and
// classifies each one exactly once.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/andybalholm/cascadia"

	"github.com/hazyhaar/lastused/dom"
	"github.com/hazyhaar/lastused/provider"
)

// DefaultSelectors is the candidate allow-list: clickable roles, auth links,
// submit inputs and conventional login classes.
var DefaultSelectors = []string{
	"button",
	`a[href*="login"]`,
	`a[href*="signin"]`,
	`a[href*="auth"]`,
	`input[type="submit"]`,
	".login-btn",
	".signin-btn",
	".auth-btn",
	`[role="button"]`,
}

// Detection is a newly processed element that matched a provider.
type Detection struct {
	Element  dom.Element
	Provider provider.Provider
	Fields   provider.Fields
}

// Result summarises one scan.
type Result struct {
	Visited    int         // candidates returned by the query
	New        int         // candidates seen for the first time
	Failed     int         // new candidates whose fields could not be read
	Pruned     int         // processed elements dropped after leaving the document
	Detections []Detection // new candidates that matched a provider
}

// Config for a Scanner.
type Config struct {
	Catalog   *provider.Catalog
	Selectors []string
	Logger    *slog.Logger
}

// Scanner is not safe for concurrent use; one goroutine owns it.
type Scanner struct {
	catalog  *provider.Catalog
	selector string
	seen     *Seen
	logger   *slog.Logger
}

// New compiles the selector allow-list and returns a Scanner.
func New(cfg Config) (*Scanner, error) {
	if cfg.Catalog == nil {
		cfg.Catalog = provider.DefaultCatalog()
	}
	if len(cfg.Selectors) == 0 {
		cfg.Selectors = DefaultSelectors
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	for _, s := range cfg.Selectors {
		if _, err := cascadia.Compile(s); err != nil {
			return nil, fmt.Errorf("scan: selector %q: %w", s, err)
		}
	}

	return &Scanner{
		catalog:  cfg.Catalog,
		selector: strings.Join(cfg.Selectors, ", "),
		seen:     NewSeen(),
		logger:   cfg.Logger,
	}, nil
}

// Processed returns the number of elements currently marked processed.
func (s *Scanner) Processed() int { return s.seen.Len() }

// Reset forgets every processed element. Use it when the document was
// replaced and old identities can never come back.
func (s *Scanner) Reset() { s.seen.Reset() }

// Scan queries doc for candidates, skips those already processed, marks the
// rest processed and classifies them. A failing element is counted and
// treated as non-matching; only a failing query aborts the scan.
func (s *Scanner) Scan(ctx context.Context, doc dom.Document) (Result, error) {
	var res Result

	els, err := doc.Query(ctx, s.selector)
	if err != nil {
		return res, fmt.Errorf("scan: query: %w", err)
	}
	res.Visited = len(els)

	live := make(map[dom.Key]bool, len(els))
	for _, el := range els {
		live[el.Key()] = true
	}
	res.Pruned = s.seen.Prune(live)

	for _, el := range els {
		if !s.seen.Add(el) {
			continue
		}
		res.New++

		f, err := ReadFields(el)
		if err != nil {
			res.Failed++
			s.logger.Debug("scan: element unreadable", "url", doc.URL(), "error", err)
			continue
		}
		if p, ok := s.catalog.Classify(f); ok {
			res.Detections = append(res.Detections, Detection{Element: el, Provider: p, Fields: f})
		}
	}
	return res, nil
}

// ReadFields pulls the classification inputs off an element.
func ReadFields(el dom.Element) (provider.Fields, error) {
	var f provider.Fields
	var err error
	if f.Text, err = el.Text(); err != nil {
		return f, fmt.Errorf("text: %w", err)
	}
	attrs := []struct {
		name string
		dst  *string
	}{
		{"title", &f.Title},
		{"aria-label", &f.AriaLabel},
		{"href", &f.Href},
		{"class", &f.Class},
		{"id", &f.ID},
	}
	for _, a := range attrs {
		if *a.dst, err = el.Attr(a.name); err != nil {
			return f, fmt.Errorf("attr %s: %w", a.name, err)
		}
	}
	return f, nil
}
