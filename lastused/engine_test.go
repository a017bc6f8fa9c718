package lastused

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/lastused/internal/htmldoc"
	"github.com/hazyhaar/lastused/internal/session"
	"github.com/hazyhaar/lastused/relay"
)

const loginPage = `<html><body><div id="root">
	<a href="/auth/github" id="gh">Continue with GitHub</a>
	<button id="google">Sign in with Google</button>
</div></body></html>`

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(&Config{DBPath: ":memory:", RescanDelay: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Stop() })
	return e
}

func attachStatic(t *testing.T, e *Engine, id, url string) (*htmldoc.Document, *session.Session) {
	t.Helper()
	doc, err := htmldoc.ParseString(loginPage, url)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := e.Attach(context.Background(), id, doc)
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		st, err := sess.Stats(context.Background())
		return err == nil && st.Scans >= 1
	})
	if err := sess.Settle(context.Background()); err != nil {
		t.Fatal(err)
	}
	return doc, sess
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClickConvergesAcrossTabs(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	a, _ := attachStatic(t, e, "a", "https://example.com/login")
	b, _ := attachStatic(t, e, "b", "https://www.example.com/signin")
	other, _ := attachStatic(t, e, "other", "https://other.org/")

	if err := a.Click("#gh"); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		p, ok, _ := e.Lookup(ctx, "example.com")
		return ok && p == "GitHub"
	})

	eventually(t, func() bool { return a.MarkerCount() == 1 && b.MarkerCount() == 1 })
	gh, _ := b.First("#gh")
	if gh.MarkerCount() != 1 {
		t.Error("marker not on the GitHub button")
	}
	time.Sleep(50 * time.Millisecond)
	if other.MarkerCount() != 0 {
		t.Errorf("other domain got %d markers", other.MarkerCount())
	}

	if err := a.Click("#google"); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		g, _ := a.First("#google")
		h, _ := a.First("#gh")
		return g.MarkerCount() == 1 && h.MarkerCount() == 0
	})
}

func TestAttachDuplicateID(t *testing.T) {
	e := testEngine(t)
	attachStatic(t, e, "a", "https://example.com/")
	doc, _ := htmldoc.ParseString(loginPage, "https://example.com/")
	if _, err := e.Attach(context.Background(), "a", doc); err == nil {
		t.Fatal("expected duplicate id error")
	}
	e.Detach("a")
	if _, ok := e.Session("a"); ok {
		t.Error("session still registered after Detach")
	}
}

func TestInspect(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(loginPage))
	}))
	defer srv.Close()

	in, err := e.Inspect(ctx, srv.URL+"/login")
	if err != nil {
		t.Fatal(err)
	}
	if in.Candidates != 2 || len(in.Buttons) != 2 || in.Recorded != "" {
		t.Fatalf("inspection = %+v", in)
	}

	if err := e.Store().Record(ctx, in.Domain, "Google"); err != nil {
		t.Fatal(err)
	}
	in, err = e.Inspect(ctx, srv.URL+"/login")
	if err != nil {
		t.Fatal(err)
	}
	if in.Recorded != "Google" {
		t.Fatalf("Recorded = %q", in.Recorded)
	}
	for _, b := range in.Buttons {
		if b.LastUsed != (b.Provider == "Google") {
			t.Errorf("button %+v", b)
		}
	}
	if in.Buttons[0].Text != "Continue with GitHub" {
		t.Errorf("Text = %q", in.Buttons[0].Text)
	}
}

func TestRelayRequests(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	e.Store().Record(ctx, "example.com", "Discord")

	got, err := e.Handle(ctx, relay.Request{Type: relay.GetDomainData, Domain: "example.com"})
	if err != nil || got["lastUsed_example.com"] != "Discord" {
		t.Fatalf("GET_DOMAIN_DATA = %v, %v", got, err)
	}
}

var testImpl = &mcp.Implementation{Name: "lastused-test", Version: "0.1.0"}

func mcpSession(t *testing.T) (*Engine, *mcp.ClientSession) {
	t.Helper()
	e := testEngine(t)

	srv := mcp.NewServer(testImpl, nil)
	e.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return e, session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

func TestMCP_LookupListClear(t *testing.T) {
	e, session := mcpSession(t)
	ctx := context.Background()
	e.Store().Record(ctx, "example.com", "GitHub")
	e.Store().Record(ctx, "shop.test", "Amazon")

	var lookup struct {
		Found    bool   `json:"found"`
		Provider string `json:"provider"`
	}
	json.Unmarshal([]byte(callTool(t, session, "lastused_lookup", map[string]any{"domain": "https://www.example.com/x"})), &lookup)
	if !lookup.Found || lookup.Provider != "GitHub" {
		t.Fatalf("lookup = %+v", lookup)
	}

	var list struct {
		Total int `json:"total"`
		Sites []struct {
			Domain string `json:"domain"`
		} `json:"sites"`
	}
	json.Unmarshal([]byte(callTool(t, session, "lastused_list", map[string]any{"query": "amazon"})), &list)
	if list.Total != 2 || len(list.Sites) != 1 || list.Sites[0].Domain != "shop.test" {
		t.Fatalf("list = %+v", list)
	}

	callTool(t, session, "lastused_clear", map[string]any{"domain": "example.com"})
	if _, ok, _ := e.Lookup(ctx, "example.com"); ok {
		t.Error("record survived lastused_clear")
	}

	var cleared struct {
		Removed int `json:"removed"`
	}
	json.Unmarshal([]byte(callTool(t, session, "lastused_clear_all", map[string]any{})), &cleared)
	if cleared.Removed != 1 {
		t.Errorf("removed = %d, want 1", cleared.Removed)
	}
}

func TestMCP_MissingArgument(t *testing.T) {
	_, session := mcpSession(t)
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "lastused_lookup",
		Arguments: map[string]any{},
	})
	if err != nil {
		return
	}
	if !result.IsError {
		t.Error("expected tool error for missing domain")
	}
}
