package scan

import "github.com/hazyhaar/lastused/dom"

// Seen is the processed set: element identities classified at least once.
// Keys that implement dom.Expirer are dropped once their node is gone;
// other keys are dropped once their element reports it left the document.
type Seen struct {
	keys map[dom.Key]dom.Connector
}

// NewSeen returns an empty set.
func NewSeen() *Seen {
	return &Seen{keys: make(map[dom.Key]dom.Connector)}
}

// Add marks el processed and reports whether it was new. Elements with
// weak keys are not retained.
func (s *Seen) Add(el dom.Element) bool {
	k := el.Key()
	if _, ok := s.keys[k]; ok {
		return false
	}
	var c dom.Connector
	if _, weak := k.(dom.Expirer); !weak {
		c, _ = el.(dom.Connector)
	}
	s.keys[k] = c
	return true
}

// Len returns the set size.
func (s *Seen) Len() int { return len(s.keys) }

// Prune drops expired keys and detached elements. Keys in live were just
// returned by a query and are kept without asking their element.
func (s *Seen) Prune(live map[dom.Key]bool) int {
	n := 0
	for k, c := range s.keys {
		if live[k] {
			continue
		}
		if e, ok := k.(dom.Expirer); ok && e.Expired() {
			delete(s.keys, k)
			n++
			continue
		}
		if c != nil && !c.Connected() {
			delete(s.keys, k)
			n++
		}
	}
	return n
}

// Reset empties the set.
func (s *Seen) Reset() { clear(s.keys) }
