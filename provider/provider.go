// Package provider classifies interactive elements to identity providers by
// keyword heuristics.
//
// The catalog is ordered and immutable once built. Classification is a plain
// substring search over a single lowercase string: the first provider in
// catalog order with any matching keyword wins. There is no scoring and no
// word-boundary anchoring, so short keywords ("fb", "live") favour recall
// over precision.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Provider is a named identity service and the keywords that identify it.
type Provider struct {
	Name     string   `json:"name" yaml:"name"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// matches reports whether any keyword is a substring of s. s must already be
// lowercase.
func (p Provider) matches(s string) bool {
	for _, kw := range p.Keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// Fields are the element properties that feed classification.
type Fields struct {
	Text      string
	Title     string
	AriaLabel string
	Href      string
	Class     string
	ID        string
}

// SearchString joins all fields into one lowercase string.
func (f Fields) SearchString() string {
	return strings.ToLower(strings.Join([]string{
		f.Text, f.Title, f.AriaLabel, f.Href, f.Class, f.ID,
	}, " "))
}

// Catalog is an ordered list of providers. The zero value matches nothing.
type Catalog struct {
	providers []Provider
}

// NewCatalog validates providers and returns a catalog preserving their order.
// Keywords are lowercased; blank keywords are dropped.
func NewCatalog(providers []Provider) (*Catalog, error) {
	seen := make(map[string]bool, len(providers))
	out := make([]Provider, 0, len(providers))
	for i, p := range providers {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("provider: entry %d: name is required", i)
		}
		if seen[strings.ToLower(name)] {
			return nil, fmt.Errorf("provider: duplicate name %q", name)
		}
		seen[strings.ToLower(name)] = true

		kws := make([]string, 0, len(p.Keywords))
		for _, kw := range p.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) == 0 {
			return nil, fmt.Errorf("provider: %q has no keywords", name)
		}
		out = append(out, Provider{Name: name, Keywords: kws})
	}
	if len(out) == 0 {
		return nil, errors.New("provider: catalog is empty")
	}
	return &Catalog{providers: out}, nil
}

// Providers returns a copy of the catalog in declaration order.
func (c *Catalog) Providers() []Provider {
	out := make([]Provider, len(c.providers))
	for i, p := range c.providers {
		out[i] = Provider{Name: p.Name, Keywords: append([]string(nil), p.Keywords...)}
	}
	return out
}

// Len returns the number of providers.
func (c *Catalog) Len() int { return len(c.providers) }

// Match returns the first provider whose keyword occurs in s.
func (c *Catalog) Match(s string) (Provider, bool) {
	s = strings.ToLower(s)
	if strings.TrimSpace(s) == "" {
		return Provider{}, false
	}
	for _, p := range c.providers {
		if p.matches(s) {
			return p, true
		}
	}
	return Provider{}, false
}

// Classify maps element fields to a provider.
func (c *Catalog) Classify(f Fields) (Provider, bool) {
	return c.Match(f.SearchString())
}

// Lookup finds a provider by name, case-insensitively.
func (c *Catalog) Lookup(name string) (Provider, bool) {
	for _, p := range c.providers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Provider{}, false
}
