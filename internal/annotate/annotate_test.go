package annotate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/lastused/internal/htmldoc"
	"github.com/hazyhaar/lastused/internal/scan"
	"github.com/hazyhaar/lastused/internal/store"
)

const loginPage = `<html><body>
	<a href="/auth/github" id="gh">Continue with GitHub</a>
	<button id="google">Sign in with Google</button>
</body></html>`

func setup(t *testing.T, url string) (*htmldoc.Document, *store.Store, *Bridge, scan.Result) {
	t.Helper()
	ctx := context.Background()
	doc, err := htmldoc.ParseString(loginPage, url)
	if err != nil {
		t.Fatal(err)
	}
	st := store.OpenMemory(t)
	sc, err := scan.New(scan.Config{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := sc.Scan(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	b := New(Config{Document: doc, Recall: st})
	return doc, st, b, res
}

func TestClickRecordsProvider(t *testing.T) {
	ctx := context.Background()
	doc, st, b, res := setup(t, "https://www.example.com/login")
	for _, d := range res.Detections {
		b.Track(ctx, d)
	}
	b.Wait()
	if b.Markers() != 0 {
		t.Fatalf("Markers = %d before any record", b.Markers())
	}

	if err := doc.Click("#gh"); err != nil {
		t.Fatal(err)
	}
	b.Wait()

	got, ok, err := st.Lookup(ctx, "example.com")
	if err != nil || !ok || got != "GitHub" {
		t.Fatalf("Lookup = %q, %v, %v", got, ok, err)
	}
	// Clicking does not render a marker by itself.
	if doc.MarkerCount() != 0 {
		t.Errorf("MarkerCount = %d after click", doc.MarkerCount())
	}
}

func TestMarkerOnlyForStoredProvider(t *testing.T) {
	ctx := context.Background()
	doc, st, b, res := setup(t, "https://example.com/")
	if err := st.Record(ctx, "example.com", "GitHub"); err != nil {
		t.Fatal(err)
	}
	for _, d := range res.Detections {
		b.Track(ctx, d)
	}
	b.Wait()

	if b.Markers() != 1 || doc.MarkerCount() != 1 {
		t.Fatalf("Markers = %d, MarkerCount = %d, want 1", b.Markers(), doc.MarkerCount())
	}
	gh, _ := doc.First("#gh")
	if gh.MarkerCount() != 1 {
		t.Error("marker not on the GitHub link")
	}
	if text, _ := gh.Text(); text != "Continue with GitHub" {
		t.Errorf("Text = %q, marker leaked into text", text)
	}
}

func TestRefreshMovesMarker(t *testing.T) {
	ctx := context.Background()
	doc, st, b, res := setup(t, "https://example.com/")
	if err := st.Record(ctx, "example.com", "GitHub"); err != nil {
		t.Fatal(err)
	}
	for _, d := range res.Detections {
		b.Track(ctx, d)
	}
	b.Wait()

	b.Refresh("Google", true)
	google, _ := doc.First("#google")
	gh, _ := doc.First("#gh")
	if google.MarkerCount() != 1 || gh.MarkerCount() != 0 {
		t.Fatalf("google=%d gh=%d", google.MarkerCount(), gh.MarkerCount())
	}

	b.Refresh("Google", true)
	if doc.MarkerCount() != 1 {
		t.Errorf("MarkerCount = %d after repeated refresh", doc.MarkerCount())
	}

	b.Refresh("", false)
	if doc.MarkerCount() != 0 || b.Markers() != 0 {
		t.Errorf("markers left after record removal: %d", doc.MarkerCount())
	}
}

func TestPruneDropsDetached(t *testing.T) {
	ctx := context.Background()
	doc, _, b, res := setup(t, "https://example.com/")
	for _, d := range res.Detections {
		b.Track(ctx, d)
	}
	b.Wait()
	if err := doc.Remove("#gh"); err != nil {
		t.Fatal(err)
	}
	b.Prune()
	if b.Tracked() != 1 {
		t.Errorf("Tracked = %d, want 1", b.Tracked())
	}
}

type failingRecall struct{}

func (failingRecall) RecordAsync(context.Context, string, string) <-chan error {
	ch := make(chan error, 1)
	ch <- errors.New("disk full")
	return ch
}

func (failingRecall) LookupAsync(context.Context, string) <-chan store.LookupResult {
	ch := make(chan store.LookupResult, 1)
	ch <- store.LookupResult{Err: errors.New("disk full")}
	return ch
}

func TestStorageFailureLeavesPageUntouched(t *testing.T) {
	ctx := context.Background()
	doc, _, _, res := setup(t, "https://example.com/")
	b := New(Config{Document: doc, Recall: failingRecall{}})
	for _, d := range res.Detections {
		b.Track(ctx, d)
	}
	if err := doc.Click("#gh"); err != nil {
		t.Fatal(err)
	}
	b.Wait()
	if doc.MarkerCount() != 0 {
		t.Errorf("MarkerCount = %d", doc.MarkerCount())
	}
}

type heldRecall struct {
	lookups chan store.LookupResult
}

func (h heldRecall) RecordAsync(context.Context, string, string) <-chan error {
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (h heldRecall) LookupAsync(context.Context, string) <-chan store.LookupResult {
	return h.lookups
}

func TestStaleLookupIgnoredAfterRefresh(t *testing.T) {
	ctx := context.Background()
	doc, _, _, res := setup(t, "https://example.com/")
	held := heldRecall{lookups: make(chan store.LookupResult)}
	b := New(Config{Document: doc, Recall: held})
	for _, d := range res.Detections {
		b.Track(ctx, d)
	}

	b.Refresh("GitHub", true)
	if doc.MarkerCount() != 1 {
		t.Fatalf("MarkerCount = %d after refresh", doc.MarkerCount())
	}

	// Both lookups started before the refresh now report no record.
	held.lookups <- store.LookupResult{}
	held.lookups <- store.LookupResult{}
	b.Wait()
	if doc.MarkerCount() != 1 {
		t.Errorf("stale lookup removed the marker: MarkerCount = %d", doc.MarkerCount())
	}
}

func TestConcurrentLookupsWithoutPost(t *testing.T) {
	ctx := context.Background()
	var page strings.Builder
	page.WriteString("<html><body>")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&page, `<button id="b%d">Sign in with GitHub</button>`, i)
		fmt.Fprintf(&page, `<button id="g%d">Sign in with Google</button>`, i)
	}
	page.WriteString("</body></html>")
	doc, err := htmldoc.ParseString(page.String(), "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	st := store.OpenMemory(t)
	if err := st.Record(ctx, "example.com", "GitHub"); err != nil {
		t.Fatal(err)
	}
	sc, _ := scan.New(scan.Config{})
	res, err := sc.Scan(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}

	b := New(Config{Document: doc, Recall: st})
	var wg sync.WaitGroup
	for _, d := range res.Detections {
		b.Track(ctx, d)
	}
	// Readers and a refresh race the lookup continuations.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Markers()
			_ = b.Tracked()
			b.Prune()
		}()
	}
	wg.Wait()
	b.Wait()

	if b.Markers() != 30 || doc.MarkerCount() != 30 {
		t.Fatalf("Markers = %d, MarkerCount = %d, want 30", b.Markers(), doc.MarkerCount())
	}
	b.Refresh("Google", true)
	if b.Markers() != 30 || doc.MarkerCount() != 30 {
		t.Fatalf("after refresh: Markers = %d, MarkerCount = %d", b.Markers(), doc.MarkerCount())
	}
	g, _ := doc.First("#g7")
	if g.MarkerCount() != 1 {
		t.Error("marker did not move to Google")
	}
}

func TestStoredNameResolvedThroughCatalog(t *testing.T) {
	ctx := context.Background()
	doc, st, b, res := setup(t, "https://example.com/")
	if err := st.Record(ctx, "example.com", "github"); err != nil {
		t.Fatal(err)
	}
	for _, d := range res.Detections {
		b.Track(ctx, d)
	}
	b.Wait()
	gh, _ := doc.First("#gh")
	if gh.MarkerCount() != 1 {
		t.Fatalf("lowercase stored name not matched: MarkerCount = %d", gh.MarkerCount())
	}

	b.Refresh("MySpace", true)
	if doc.MarkerCount() != 0 || b.Markers() != 0 {
		t.Errorf("unknown provider left a marker: %d", doc.MarkerCount())
	}
}

func TestResetForgetsEverything(t *testing.T) {
	ctx := context.Background()
	doc, _, _, res := setup(t, "https://example.com/")
	held := heldRecall{lookups: make(chan store.LookupResult)}
	b := New(Config{Document: doc, Recall: held})
	for _, d := range res.Detections {
		b.Track(ctx, d)
	}
	b.Reset()
	if b.Tracked() != 0 || b.Markers() != 0 {
		t.Fatalf("Tracked = %d, Markers = %d after Reset", b.Tracked(), b.Markers())
	}

	held.lookups <- store.LookupResult{Provider: "GitHub", Found: true}
	held.lookups <- store.LookupResult{Provider: "GitHub", Found: true}
	b.Wait()
	if doc.MarkerCount() != 0 {
		t.Errorf("lookup from before Reset rendered a marker")
	}
}
