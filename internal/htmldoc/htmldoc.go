// Package htmldoc adapts a parsed HTML tree to dom.Document.
//
// It backs the HTTP-only inspection path and every engine test: the tree can
// be mutated in place (Append, Batch, Remove), elements can be clicked, and
// rendered markers are real span nodes in the tree.
package htmldoc

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"weak"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/lastused/dom"
)

// Document is a goquery tree guarded by a mutex. All node reads and writes
// go through the document lock; callbacks run outside it.
type Document struct {
	mu  sync.Mutex
	url string
	doc *goquery.Document

	handlers map[weak.Pointer[html.Node]][]func()

	observers map[int]func(dom.Mutation)
	nextObs   int

	ready   chan struct{}
	isReady bool
}

// Parse reads HTML from r. The document starts out ready.
func Parse(r io.Reader, pageURL string) (*Document, error) {
	gq, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}
	d := &Document{
		url:       pageURL,
		doc:       gq,
		handlers:  make(map[weak.Pointer[html.Node]][]func()),
		observers: make(map[int]func(dom.Mutation)),
		ready:     make(chan struct{}),
	}
	d.FireReady()
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s, pageURL string) (*Document, error) {
	return Parse(strings.NewReader(s), pageURL)
}

// URL implements dom.Document.
func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// Navigate replaces the whole tree, as a full page load would, and reports a
// reset to observers. Click handlers of the old tree are dropped.
func (d *Document) Navigate(pageURL, page string) error {
	gq, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return fmt.Errorf("htmldoc: parse: %w", err)
	}

	d.mu.Lock()
	d.url = pageURL
	d.doc = gq
	d.handlers = make(map[weak.Pointer[html.Node]][]func())
	d.mu.Unlock()

	d.emit(dom.Mutation{Reset: true})
	return nil
}

// SetLoading puts the document back into the loading state: Ready blocks
// until FireReady.
func (d *Document) SetLoading() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isReady {
		d.ready = make(chan struct{})
		d.isReady = false
	}
}

// FireReady signals that the document is interactive. Extra calls are no-ops.
func (d *Document) FireReady() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isReady {
		d.isReady = true
		close(d.ready)
	}
}

// Ready implements dom.Document.
func (d *Document) Ready(ctx context.Context) error {
	d.mu.Lock()
	ch := d.ready
	d.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query implements dom.Document.
func (d *Document) Query(_ context.Context, selector string) ([]dom.Element, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: selector %q: %w", selector, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	nodes := d.doc.FindMatcher(sel).Nodes
	out := make([]dom.Element, len(nodes))
	for i, n := range nodes {
		out[i] = &Element{d: d, n: n}
	}
	return out, nil
}

// Observe implements dom.Document.
func (d *Document) Observe(ctx context.Context, fn func(dom.Mutation)) (func(), error) {
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop, nil
}

func (d *Document) emit(m dom.Mutation) {
	d.mu.Lock()
	fns := make([]func(dom.Mutation), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(m)
	}
}

// First returns the first element matching selector.
func (d *Document) First(selector string) (*Element, error) {
	els, err := d.Query(context.Background(), selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("htmldoc: no element matches %q", selector)
	}
	return els[0].(*Element), nil
}

// MarkerCount returns the number of rendered markers in the document.
func (d *Document) MarkerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Find("." + dom.MarkerClass).Length()
}
