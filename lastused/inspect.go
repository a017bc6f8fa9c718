package lastused

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/lastused/internal/htmldoc"
	"github.com/hazyhaar/lastused/internal/scan"
	"github.com/hazyhaar/lastused/internal/site"
)

// Inspection is the result of a one-shot, browserless scan of a URL.
type Inspection struct {
	URL        string   `json:"url"`
	Domain     string   `json:"domain"`
	StatusCode int      `json:"status_code"`
	Scripted   bool     `json:"scripted"`
	Recorded   string   `json:"recorded,omitempty"`
	Candidates int      `json:"candidates"`
	Buttons    []Button `json:"buttons"`
}

// Button is a classified login button.
type Button struct {
	Provider string `json:"provider"`
	Text     string `json:"text,omitempty"`
	Href     string `json:"href,omitempty"`
	ID       string `json:"id,omitempty"`
	LastUsed bool   `json:"last_used"`
}

// Inspect fetches pageURL over HTTP, scans it once and flags the buttons
// matching the recorded provider for its domain. Pages that render their
// buttons with JavaScript report Scripted and may list nothing.
func (e *Engine) Inspect(ctx context.Context, pageURL string) (*Inspection, error) {
	res, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := htmldoc.Parse(bytes.NewReader(res.Body), res.URL)
	if err != nil {
		return nil, err
	}
	return e.inspectDocument(ctx, doc, res.StatusCode, res.Scripted)
}

func (e *Engine) inspectDocument(ctx context.Context, doc *htmldoc.Document, status int, scripted bool) (*Inspection, error) {
	sc, err := scan.New(scan.Config{Catalog: e.catalog, Selectors: e.cfg.Selectors, Logger: e.logger})
	if err != nil {
		return nil, fmt.Errorf("lastused: %w", err)
	}
	result, err := sc.Scan(ctx, doc)
	if err != nil {
		return nil, err
	}

	in := &Inspection{
		URL:        doc.URL(),
		Domain:     site.Domain(doc.URL()),
		StatusCode: status,
		Scripted:   scripted,
		Candidates: result.Visited,
		Buttons:    make([]Button, 0, len(result.Detections)),
	}
	if in.Domain != "" {
		p, ok, err := e.store.Lookup(ctx, in.Domain)
		if err != nil {
			return nil, err
		}
		if ok {
			in.Recorded = p
		}
	}
	for _, d := range result.Detections {
		in.Buttons = append(in.Buttons, Button{
			Provider: d.Provider.Name,
			Text:     strings.Join(strings.Fields(d.Fields.Text), " "),
			Href:     d.Fields.Href,
			ID:       d.Fields.ID,
			LastUsed: in.Recorded != "" && d.Provider.Name == in.Recorded,
		})
	}
	return in, nil
}
