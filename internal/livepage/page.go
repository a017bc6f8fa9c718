// Package livepage adapts a Chrome page driven through rod to dom.Document.
//
// An injected MutationObserver reports structural batches and click events
// back through a Runtime binding. The observer is also registered for every
// new document, so a full navigation is reported as a reset once the new
// page is interactive. Elements are identified by their CDP backend node id,
// which is stable for the lifetime of the node.
package livepage

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/lastused/dom"
)

//go:embed observer.js
var observerJS string

// Binding is the Runtime binding the injected script calls.
const Binding = "__lastused_binding"

// event is the binding payload.
type event struct {
	Type    string `json:"type"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	Token   string `json:"token"`
}

// Page is a live document.
type Page struct {
	page   *rod.Page
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	removeScript func() error

	mu        sync.Mutex
	clicks    map[string]func()
	observers map[int]func(dom.Mutation)
	nextObs   int
}

// New installs the binding and the observer script on page. The binding
// listener runs until Close.
func New(page *rod.Page, logger *slog.Logger) (*Page, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Page{
		page:      page,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		clicks:    make(map[string]func()),
		observers: make(map[int]func(dom.Mutation)),
	}

	if err := (proto.RuntimeAddBinding{Name: Binding}).Call(page); err != nil {
		cancel()
		return nil, fmt.Errorf("livepage: add binding: %w", err)
	}
	wait := page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == Binding {
			p.dispatch(e.Payload)
		}
	})
	go wait()

	remove, err := page.EvalOnNewDocument(fmt.Sprintf("(%s)(%q, %q, true)", observerJS, Binding, dom.MarkerClass))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("livepage: register observer: %w", err)
	}
	p.removeScript = remove

	if _, err := page.Eval(observerJS, Binding, dom.MarkerClass, false); err != nil {
		cancel()
		return nil, fmt.Errorf("livepage: inject observer: %w", err)
	}
	return p, nil
}

// Close stops the binding listener and closes the browser page.
func (p *Page) Close() error {
	p.cancel()
	if p.removeScript != nil {
		if err := p.removeScript(); err != nil {
			p.logger.Debug("livepage: remove observer script", "error", err)
		}
	}
	return p.page.Close()
}

func (p *Page) dispatch(payload string) {
	var ev event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		p.logger.Debug("livepage: bad binding payload", "error", err)
		return
	}

	switch ev.Type {
	case "mutation":
		p.emit(dom.Mutation{Added: ev.Added, Removed: ev.Removed})

	case "ready":
		// The old document's listeners went with it.
		p.mu.Lock()
		clear(p.clicks)
		p.mu.Unlock()
		p.emit(dom.Mutation{Reset: true})

	case "click":
		p.mu.Lock()
		fn := p.clicks[ev.Token]
		p.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

func (p *Page) emit(m dom.Mutation) {
	p.mu.Lock()
	fns := make([]func(dom.Mutation), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

// URL implements dom.Document. It reflects in-page navigation.
func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		p.logger.Debug("livepage: target info", "error", err)
		return ""
	}
	return info.URL
}

const readyJS = `() => new Promise((resolve) => {
	if (document.readyState !== 'loading') { resolve(); return; }
	document.addEventListener('DOMContentLoaded', () => resolve(), { once: true });
})`

// Ready implements dom.Document.
func (p *Page) Ready(ctx context.Context) error {
	if _, err := p.page.Context(ctx).Eval(readyJS); err != nil {
		return fmt.Errorf("livepage: ready: %w", err)
	}
	return nil
}

// Query implements dom.Document. Elements that cannot be described are
// skipped.
func (p *Page) Query(ctx context.Context, selector string) ([]dom.Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("livepage: query %q: %w", selector, err)
	}
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		node, err := el.Describe(0, false)
		if err != nil {
			p.logger.Debug("livepage: describe element", "error", err)
			continue
		}
		out = append(out, &Element{p: p, el: el, id: node.BackendNodeID})
	}
	return out, nil
}

// Observe implements dom.Document.
func (p *Page) Observe(ctx context.Context, fn func(dom.Mutation)) (func(), error) {
	p.mu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = fn
	p.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.observers, id)
			p.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-p.ctx.Done():
		}
		stop()
	}()
	return stop, nil
}
