package livepage

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/lastused/dom"
	"github.com/hazyhaar/lastused/internal/idgen"
)

// Element is a remote DOM element.
type Element struct {
	p  *Page
	el *rod.Element
	id proto.DOMBackendNodeID
}

// nodeKey is comparable across separate queries of the same node.
type nodeKey struct {
	id proto.DOMBackendNodeID
}

// Key implements dom.Element.
func (e *Element) Key() dom.Key { return nodeKey{id: e.id} }

const textJS = `(cls) => {
	const c = this.cloneNode(true);
	c.querySelectorAll('.' + cls).forEach((m) => m.remove());
	return c.textContent || '';
}`

// Text implements dom.Element.
func (e *Element) Text() (string, error) {
	res, err := e.el.Eval(textJS, dom.MarkerClass)
	if err != nil {
		return "", fmt.Errorf("livepage: text: %w", err)
	}
	return res.Value.Str(), nil
}

// Attr implements dom.Element.
func (e *Element) Attr(name string) (string, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", fmt.Errorf("livepage: attr %s: %w", name, err)
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

const clickJS = `(binding, token) => {
	this.addEventListener('click', () => {
		window[binding](JSON.stringify({ type: 'click', token }));
	});
}`

var clickToken = idgen.Short(16)

// OnClick implements dom.Element.
func (e *Element) OnClick(fn func()) error {
	token := clickToken()
	e.p.mu.Lock()
	e.p.clicks[token] = fn
	e.p.mu.Unlock()

	if _, err := e.el.Eval(clickJS, Binding, token); err != nil {
		e.p.mu.Lock()
		delete(e.p.clicks, token)
		e.p.mu.Unlock()
		return fmt.Errorf("livepage: add click listener: %w", err)
	}
	return nil
}

const attachJS = `(cls, style, label) => {
	this.querySelectorAll(':scope > .' + cls).forEach((m) => m.remove());
	const s = document.createElement('span');
	s.className = cls;
	s.style.cssText = style;
	s.textContent = label;
	this.appendChild(s);
}`

const removeJS = `(cls) => {
	this.querySelectorAll(':scope > .' + cls).forEach((m) => m.remove());
}`

// AttachMarker implements dom.Element. Stray markers on the element are
// removed first.
func (e *Element) AttachMarker(label string) (dom.Marker, error) {
	if _, err := e.el.Eval(attachJS, dom.MarkerClass, dom.MarkerStyle, label); err != nil {
		return nil, fmt.Errorf("livepage: attach marker: %w", err)
	}
	return &marker{el: e.el}, nil
}

// Connected reports whether the node is still in the document. Any error
// counts as detached.
func (e *Element) Connected() bool {
	res, err := e.el.Eval(`() => this.isConnected`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

type marker struct {
	el *rod.Element
}

func (m *marker) Remove() error {
	if _, err := m.el.Eval(removeJS, dom.MarkerClass); err != nil {
		return fmt.Errorf("livepage: remove marker: %w", err)
	}
	return nil
}
