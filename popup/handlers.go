package popup

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/lastused/internal/site"
)

var pageTmpl = template.Must(template.New("popup").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>Last used logins</title>
<style>
body{font-family:system-ui,sans-serif;width:360px;margin:1rem auto;padding:0 1rem;color:#222;background:#fafafa}
h1{font-size:1.1rem;border-bottom:2px solid #e0e0e0;padding-bottom:.5rem}
.current,.site-item{background:#fff;border:1px solid #e0e0e0;border-radius:6px;padding:.6rem;margin-bottom:.5rem;display:flex;justify-content:space-between;align-items:center}
.provider{background:#4CAF50;color:#fff;border-radius:3px;padding:2px 6px;font-size:.8rem;font-weight:bold}
.provider.none{background:#bbb}
.empty{color:#999;font-style:italic}
form{display:inline}
button{cursor:pointer}
</style></head><body>
<h1>Last used logins</h1>
{{- if .CurrentDomain}}
<div class="current"><span id="current-domain">{{.CurrentDomain}}</span>
{{- if .Current}}
<span><span id="current-provider" class="provider">{{.Current.Provider}}</span>
<form method="post" action="clear?domain={{.CurrentDomain}}&amp;url={{.CurrentURL}}"><button id="clear-current" title="Clear for {{.CurrentDomain}}">Clear</button></form></span>
{{- else}}
<span id="current-provider" class="provider none">None yet</span>
{{- end}}
</div>
{{- end}}
<form method="get" action="."><input id="search-input" type="search" name="q" value="{{.Query}}" placeholder="Search sites or providers">
{{- if .CurrentURL}}<input type="hidden" name="url" value="{{.CurrentURL}}">{{end}}</form>
<div id="sites-list">
{{- if .Empty}}
<div class="empty">{{.Empty}}</div>
{{- end}}
{{- range .Sites}}
<div class="site-item"><span class="domain">{{.Domain}}</span>
<span class="last-used"><span class="provider">{{.Provider}}</span>
<form method="post" action="clear?domain={{.Domain}}"><button class="clear-btn" title="Clear for {{.Domain}}">&#x2715;</button></form></span></div>
{{- end}}
</div>
{{- if .Total}}
<form method="post" action="clear-all" onsubmit="return confirm('Are you sure you want to clear all login history? This cannot be undone.')"><button id="clear-all">Clear all ({{.Total}})</button></form>
{{- end}}
</body></html>`))

func (p *Popup) handlePage(w http.ResponseWriter, r *http.Request) {
	currentURL := r.URL.Query().Get("url")
	v, err := p.Build(r.Context(), currentURL, r.URL.Query().Get("q"))
	if err != nil {
		p.logger.Error("popup: build view", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.Execute(w, struct {
		View
		CurrentURL string
	}{v, currentURL}); err != nil {
		p.logger.Warn("popup: render", "error", err)
	}
}

func (p *Popup) handleClearForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "form too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	domain := site.Domain(r.FormValue("domain"))
	if domain == "" {
		http.Error(w, "domain is required", http.StatusBadRequest)
		return
	}
	if err := p.sites.Forget(r.Context(), domain); err != nil {
		p.logger.Error("popup: forget", "domain", domain, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	back := "."
	if u := r.FormValue("url"); u != "" {
		back = ".?url=" + url.QueryEscape(u)
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}

func (p *Popup) handleClearAllForm(w http.ResponseWriter, r *http.Request) {
	if _, err := p.sites.ForgetAll(r.Context()); err != nil {
		p.logger.Error("popup: forget all", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, ".", http.StatusSeeOther)
}

func (p *Popup) handleList(w http.ResponseWriter, r *http.Request) {
	v, err := p.Build(r.Context(), "", r.URL.Query().Get("q"))
	if err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (p *Popup) handleCurrent(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("url")
	if u == "" {
		jsonErr(w, "url is required", http.StatusBadRequest)
		return
	}
	v, err := p.Build(r.Context(), u, "")
	if err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp := map[string]any{"domain": v.CurrentDomain, "provider": nil}
	if v.Current != nil {
		resp["provider"] = v.Current.Provider
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *Popup) handleForget(w http.ResponseWriter, r *http.Request) {
	domain := site.Domain(chi.URLParam(r, "domain"))
	if domain == "" {
		jsonErr(w, "invalid domain", http.StatusBadRequest)
		return
	}
	if err := p.sites.Forget(r.Context(), domain); err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (p *Popup) handleClearAll(w http.ResponseWriter, r *http.Request) {
	n, err := p.sites.ForgetAll(r.Context())
	if err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": n})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
