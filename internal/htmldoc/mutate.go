package htmldoc

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/lastused/dom"
)

// Batch groups several tree changes into one mutation notification.
type Batch struct {
	d       *Document
	added   int
	removed int
}

// Append parses fragment in the context of the first element matching
// selector and appends the resulting nodes to it.
func (b *Batch) Append(selector, fragment string) error {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return fmt.Errorf("htmldoc: selector %q: %w", selector, err)
	}
	parent := b.d.doc.FindMatcher(sel).First().Nodes
	if len(parent) == 0 {
		return fmt.Errorf("htmldoc: no element matches %q", selector)
	}

	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent[0])
	if err != nil {
		return fmt.Errorf("htmldoc: parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent[0].AppendChild(n)
	}
	b.added += len(nodes)
	return nil
}

// Remove detaches every element matching selector.
func (b *Batch) Remove(selector string) error {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return fmt.Errorf("htmldoc: selector %q: %w", selector, err)
	}
	for _, n := range b.d.doc.FindMatcher(sel).Nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
			b.removed++
		}
	}
	return nil
}

// Batch applies fn under the document lock and, if anything changed, delivers
// a single mutation to observers afterwards.
func (d *Document) Batch(fn func(*Batch) error) error {
	b := &Batch{d: d}

	d.mu.Lock()
	err := fn(b)
	d.mu.Unlock()

	if b.added > 0 || b.removed > 0 {
		d.emit(dom.Mutation{Added: b.added, Removed: b.removed})
	}
	return err
}

// Append is a one-operation Batch.
func (d *Document) Append(selector, fragment string) error {
	return d.Batch(func(b *Batch) error { return b.Append(selector, fragment) })
}

// Remove is a one-operation Batch.
func (d *Document) Remove(selector string) error {
	return d.Batch(func(b *Batch) error { return b.Remove(selector) })
}

// Click clicks the first element matching selector.
func (d *Document) Click(selector string) error {
	el, err := d.First(selector)
	if err != nil {
		return err
	}
	el.Click()
	return nil
}
