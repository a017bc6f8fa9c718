package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		if !strings.Contains(r.Header.Get("User-Agent"), "lastused") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><button>Sign in with Google</button></body></html>`))
	}))
	defer srv.Close()

	res, err := New().Fetch(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != 200 || !strings.HasSuffix(res.URL, "/login") {
		t.Errorf("status=%d url=%s", res.StatusCode, res.URL)
	}
	if !strings.Contains(string(res.Body), "Sign in with Google") || res.Scripted {
		t.Errorf("body=%q scripted=%v", res.Body, res.Scripted)
	}
}

func TestFetch_BodyCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunk := []byte(strings.Repeat("a", 1<<20))
		for i := 0; i < 12; i++ {
			w.Write(chunk)
		}
	}))
	defer srv.Close()

	res, err := New().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Body) != MaxBody {
		t.Errorf("len(Body) = %d, want %d", len(res.Body), MaxBody)
	}
}

func TestLooksScripted(t *testing.T) {
	shell := []byte(`<html><body><div id="root"></div><script src="/main.js"></script></body></html>`)
	if !LooksScripted(shell) {
		t.Error("expected SPA shell to be scripted")
	}
	static := []byte(`<html><body><form><button>Log in</button></form></body></html>`)
	if LooksScripted(static) {
		t.Error("expected static page not to be scripted")
	}
}
