package store

import (
	"context"
	"sort"
	"strings"
)

// KeyPrefix namespaces site records in the key space.
const KeyPrefix = "lastUsed_"

// Key returns the storage key for a normalised domain.
func Key(domain string) string {
	return KeyPrefix + domain
}

// DomainFromKey reverses Key. ok is false for keys outside the namespace.
func DomainFromKey(key string) (domain string, ok bool) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, KeyPrefix), true
}

// Site is a (domain → provider) association.
type Site struct {
	Domain     string `json:"domain"`
	Provider   string `json:"provider"`
	StorageKey string `json:"storage_key"`
}

// Record stores provider as the last used login for domain.
func (s *Store) Record(ctx context.Context, domain, provider string) error {
	return s.Set(ctx, Key(domain), provider)
}

// Lookup returns the provider recorded for domain.
func (s *Store) Lookup(ctx context.Context, domain string) (string, bool, error) {
	return s.Get(ctx, Key(domain))
}

// SiteKeys returns the site record keys in enumeration order.
func (s *Store) SiteKeys(ctx context.Context) ([]string, error) {
	entries, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if _, ok := DomainFromKey(e.Key); ok {
			keys = append(keys, e.Key)
		}
	}
	return keys, nil
}

// Sites returns every site record sorted by domain.
func (s *Store) Sites(ctx context.Context) ([]Site, error) {
	entries, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sites := []Site{}
	for _, e := range entries {
		if d, ok := DomainFromKey(e.Key); ok {
			sites = append(sites, Site{Domain: d, Provider: e.Value, StorageKey: e.Key})
		}
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Domain < sites[j].Domain })
	return sites, nil
}

// Forget removes the records of the given domains.
func (s *Store) Forget(ctx context.Context, domains ...string) error {
	keys := make([]string, len(domains))
	for i, d := range domains {
		keys[i] = Key(d)
	}
	return s.Remove(ctx, keys...)
}

// ForgetAll removes every site record and returns how many were removed.
// Keys outside the namespace are left alone.
func (s *Store) ForgetAll(ctx context.Context) (int, error) {
	keys, err := s.SiteKeys(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.Remove(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// LookupResult is delivered by LookupAsync.
type LookupResult struct {
	Provider string
	Found    bool
	Err      error
}

// RecordAsync runs Record in the background. The channel receives exactly one
// value and is buffered, so callers may drop it.
func (s *Store) RecordAsync(ctx context.Context, domain, provider string) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- s.Record(ctx, domain, provider)
	}()
	return ch
}

// LookupAsync runs Lookup in the background. The channel receives exactly one
// value and is buffered.
func (s *Store) LookupAsync(ctx context.Context, domain string) <-chan LookupResult {
	ch := make(chan LookupResult, 1)
	go func() {
		p, ok, err := s.Lookup(ctx, domain)
		ch <- LookupResult{Provider: p, Found: ok, Err: err}
	}()
	return ch
}
