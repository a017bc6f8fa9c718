// Package dom defines the document model the login-affordance engine runs on.
//
// Two adapters ship with lastused: a live Chrome page driven through rod and
// a static goquery tree. Both satisfy Document; anything else that can report
// elements, clicks and structural changes can be plugged into the engine.
package dom

import "context"

// Key identifies an element for as long as its node lives. Keys must be
// comparable. A key that implements Expirer is dropped from bookkeeping once
// Expired reports true.
type Key any

// Expirer is implemented by keys backed by weak references.
type Expirer interface {
	Expired() bool
}

// Element is a candidate interactive element. Every accessor may fail: the
// node can be detached, remote, or otherwise unreadable.
type Element interface {
	Key() Key
	// Text returns the element's text content, excluding any marker.
	Text() (string, error)
	// Attr returns the attribute value, or "" when absent.
	Attr(name string) (string, error)
	// OnClick registers fn to run on every click of the element.
	OnClick(fn func()) error
	// AttachMarker renders a "last used" badge on the element.
	AttachMarker(label string) (Marker, error)
}

// Marker is a rendered badge.
type Marker interface {
	Remove() error
}

// Mutation is one batch of structural changes. Reset reports that the
// document was replaced by a navigation: every element and marker is gone
// and the counts are meaningless.
type Mutation struct {
	Added   int  `json:"added"`
	Removed int  `json:"removed,omitempty"`
	Reset   bool `json:"reset,omitempty"`
}

// Connector is implemented by elements that can tell whether they are still
// attached to their document.
type Connector interface {
	Connected() bool
}

// Document is a live or static page.
type Document interface {
	URL() string
	// Ready blocks until the document is interactive and returns immediately
	// if it already is.
	Ready(ctx context.Context) error
	// Query returns the elements matching a CSS selector group, in document order.
	Query(ctx context.Context, selector string) ([]Element, error)
	// Observe delivers structural-change batches until stop is called or ctx ends.
	Observe(ctx context.Context, fn func(Mutation)) (stop func(), err error)
}

// MarkerClass is the class carried by every rendered badge.
const MarkerClass = "last-used-marker"

// MarkerStyle is applied inline so the badge renders without a stylesheet.
const MarkerStyle = "margin-left: 6px; font-size: 0.8em; color: #ff6b35; font-weight: 500; " +
	"background: rgba(255, 107, 53, 0.1); padding: 2px 6px; border-radius: 4px; display: inline-block;"
