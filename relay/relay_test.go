package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/lastused/internal/store"
)

func TestSweep_TrimsToCeiling(t *testing.T) {
	ctx := context.Background()
	st := store.OpenMemory(t)
	for i := 0; i < 150; i++ {
		if err := st.Record(ctx, fmt.Sprintf("site%03d.test", i), "GitHub"); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Set(ctx, "settings", "keep"); err != nil {
		t.Fatal(err)
	}

	r := New(Config{Store: st})
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	keys, err := st.SiteKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 100 {
		t.Fatalf("kept %d records, want 100", len(keys))
	}
	if keys[0] != store.Key("site000.test") || keys[99] != store.Key("site099.test") {
		t.Errorf("kept range %s..%s", keys[0], keys[99])
	}
	if _, ok, _ := st.Get(ctx, "settings"); !ok {
		t.Error("non-record key removed")
	}

	n, err := r.Sweep(ctx)
	if err != nil || n != 0 {
		t.Errorf("second Sweep = %d, %v", n, err)
	}
}

func TestSweep_UnderCeiling(t *testing.T) {
	ctx := context.Background()
	st := store.OpenMemory(t)
	for i := 0; i < 100; i++ {
		st.Record(ctx, fmt.Sprintf("d%d.test", i), "Google")
	}
	n, err := New(Config{Store: st}).Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
}

type recTab struct {
	id   string
	fail error

	mu   sync.Mutex
	msgs []Message
}

func (t *recTab) ID() string { return t.id }

func (t *recTab) Deliver(_ context.Context, m Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = append(t.msgs, m)
	return t.fail
}

func (t *recTab) received() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.msgs...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesEveryTab(t *testing.T) {
	ctx := context.Background()
	st := store.OpenMemory(t)
	r := New(Config{Store: st})
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	broken := &recTab{id: "broken", fail: errors.New("no receiver")}
	a := &recTab{id: "a"}
	r.Register(broken)
	unregister := r.Register(a)

	if err := st.Record(ctx, "example.com", "GitHub"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(a.received()) == 1 && len(broken.received()) == 1 })

	m := a.received()[0]
	if m.Type != StorageChanged || m.ID == "" {
		t.Fatalf("message = %+v", m)
	}
	if len(m.Changes) != 1 || m.Changes[0].Key != "lastUsed_example.com" || m.Changes[0].NewValue != "GitHub" {
		t.Fatalf("changes = %+v", m.Changes)
	}

	unregister()
	if err := st.Forget(ctx, "example.com"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(broken.received()) == 2 })
	if len(a.received()) != 1 {
		t.Error("unregistered tab still receives")
	}
	if r.Tabs() != 1 {
		t.Errorf("Tabs = %d", r.Tabs())
	}
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	st := store.OpenMemory(t)
	r := New(Config{Store: st})

	got, err := r.Handle(ctx, Request{Type: GetDomainData, Domain: "example.com"})
	if err != nil || len(got) != 0 {
		t.Fatalf("empty GET = %v, %v", got, err)
	}

	st.Record(ctx, "example.com", "Apple")
	got, err = r.Handle(ctx, Request{Type: GetDomainData, Domain: "example.com"})
	if err != nil || got["lastUsed_example.com"] != "Apple" {
		t.Fatalf("GET = %v, %v", got, err)
	}

	got, err = r.Handle(ctx, Request{Type: ClearDomainData, Domain: "example.com"})
	if err != nil || got["success"] != true {
		t.Fatalf("CLEAR = %v, %v", got, err)
	}
	if _, ok, _ := st.Lookup(ctx, "example.com"); ok {
		t.Error("record survived CLEAR_DOMAIN_DATA")
	}

	if _, err := r.Handle(ctx, Request{Type: "BOGUS"}); err == nil {
		t.Error("expected error for unknown type")
	}
}
