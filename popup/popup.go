// Package popup serves the companion UI: the current site's record, the full
// history with a search filter, and clear actions. It has an HTML page for
// people and a small JSON API for tools.
package popup

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/lastused/internal/site"
	"github.com/hazyhaar/lastused/internal/store"
)

// Sites is the part of the recall store the popup reads and clears.
type Sites interface {
	Sites(ctx context.Context) ([]store.Site, error)
	Forget(ctx context.Context, domains ...string) error
	ForgetAll(ctx context.Context) (int, error)
}

// Empty-state messages.
const (
	EmptyHistory = "No login history yet. Start using login buttons on websites!"
	EmptySearch  = "No sites match your search."
)

// Popup is the UI surface over a recall store.
type Popup struct {
	sites  Sites
	logger *slog.Logger
}

// New returns a Popup.
func New(sites Sites, logger *slog.Logger) *Popup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Popup{sites: sites, logger: logger}
}

// Handler returns the router. Paths are relative; mount it wherever.
func (p *Popup) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(p.requestLog, middleware.Recoverer, withSecurityHeaders, headToGet, maxFormBody)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/", p.handlePage)
	r.Post("/clear", p.handleClearForm)
	r.Post("/clear-all", p.handleClearAllForm)

	r.Route("/api/sites", func(r chi.Router) {
		r.Get("/", p.handleList)
		r.Delete("/", p.handleClearAll)
		r.Get("/current", p.handleCurrent)
		r.Delete("/{domain}", p.handleForget)
	})
	return r
}

// View is what the page and the API render.
type View struct {
	CurrentDomain string       `json:"current_domain,omitempty"`
	Current       *store.Site  `json:"current,omitempty"`
	Query         string       `json:"query,omitempty"`
	Total         int          `json:"total"`
	Sites         []store.Site `json:"sites"`
	Empty         string       `json:"empty,omitempty"`
}

// Build loads the history and applies the current-tab URL and search query.
// The history is sorted by domain.
func (p *Popup) Build(ctx context.Context, currentURL, query string) (View, error) {
	all, err := p.sites.Sites(ctx)
	if err != nil {
		return View{}, err
	}
	v := View{Query: query, Total: len(all)}

	if currentURL != "" {
		v.CurrentDomain = site.Domain(currentURL)
		for i := range all {
			if all[i].Domain == v.CurrentDomain {
				cur := all[i]
				v.Current = &cur
				break
			}
		}
	}

	v.Sites = Filter(all, query)
	switch {
	case len(all) == 0:
		v.Empty = EmptyHistory
	case len(v.Sites) == 0:
		v.Empty = EmptySearch
	}
	return v, nil
}

// Filter keeps the sites whose domain or provider contains query,
// case-insensitively. An empty query keeps everything.
func Filter(sites []store.Site, query string) []store.Site {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]store.Site, 0, len(sites))
	for _, s := range sites {
		if q == "" ||
			strings.Contains(strings.ToLower(s.Domain), q) ||
			strings.Contains(strings.ToLower(s.Provider), q) {
			out = append(out, s)
		}
	}
	return out
}
