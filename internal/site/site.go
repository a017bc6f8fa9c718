// Package site normalises URLs and hostnames into the domain granularity
// records are keyed by.
package site

import (
	"net/url"
	"strings"
)

// Domain returns the hostname of rawURL, lowercased, with one leading "www."
// removed. Bare hostnames ("www.example.com") are accepted. Unparseable input
// yields "".
func Domain(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
