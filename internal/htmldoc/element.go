package htmldoc

import (
	"strings"
	"weak"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/lastused/dom"
)

// nodeKey is a weak identity: it stops pinning the node once nothing else
// references it.
type nodeKey struct {
	p weak.Pointer[html.Node]
}

func (k nodeKey) Expired() bool { return k.p.Value() == nil }

// Element wraps one node of a Document.
type Element struct {
	d *Document
	n *html.Node
}

// Key implements dom.Element.
func (e *Element) Key() dom.Key { return nodeKey{p: weak.Make(e.n)} }

// Text implements dom.Element. Marker nodes are skipped.
func (e *Element) Text() (string, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if isMarker(n) {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.n)
	return b.String(), nil
}

// Attr implements dom.Element.
func (e *Element) Attr(name string) (string, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return attr(e.n, name), nil
}

// OnClick implements dom.Element.
func (e *Element) OnClick(fn func()) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	k := weak.Make(e.n)
	e.d.handlers[k] = append(e.d.handlers[k], fn)
	return nil
}

// AttachMarker implements dom.Element. Any marker already on the element is
// replaced.
func (e *Element) AttachMarker(label string) (dom.Marker, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()

	removeMarkers(e.n)

	span := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: dom.MarkerClass},
			{Key: "style", Val: dom.MarkerStyle},
		},
	}
	span.AppendChild(&html.Node{Type: html.TextNode, Data: label})
	e.n.AppendChild(span)
	return &marker{d: e.d, n: span}, nil
}

// Connected reports whether the element is still attached to the document.
func (e *Element) Connected() bool {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	for n := e.n; n != nil; n = n.Parent {
		if n.Type == html.DocumentNode {
			return true
		}
	}
	return false
}

// MarkerCount returns the number of markers directly on the element.
func (e *Element) MarkerCount() int {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	n := 0
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if isMarker(c) {
			n++
		}
	}
	return n
}

// ListenerCount returns the number of click handlers registered on the element.
func (e *Element) ListenerCount() int {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return len(e.d.handlers[weak.Make(e.n)])
}

// Click runs the element's click handlers in registration order.
func (e *Element) Click() {
	e.d.mu.Lock()
	fns := append([]func(){}, e.d.handlers[weak.Make(e.n)]...)
	e.d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

type marker struct {
	d *Document
	n *html.Node
}

func (m *marker) Remove() error {
	m.d.mu.Lock()
	defer m.d.mu.Unlock()
	if m.n.Parent != nil {
		m.n.Parent.RemoveChild(m.n)
	}
	return nil
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func isMarker(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == dom.MarkerClass {
			return true
		}
	}
	return false
}

func removeMarkers(n *html.Node) {
	var stale []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isMarker(c) {
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		n.RemoveChild(c)
	}
}
