// Package relay is the background side of lastused. It enforces the record
// ceiling, broadcasts recall-store changes to every open tab and answers the
// domain-data requests the popup and tools send.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/lastused/internal/idgen"
	"github.com/hazyhaar/lastused/internal/store"
)

// Kind names a message type.
type Kind string

const (
	StorageChanged  Kind = "STORAGE_CHANGED"
	GetDomainData   Kind = "GET_DOMAIN_DATA"
	ClearDomainData Kind = "CLEAR_DOMAIN_DATA"
)

// DefaultMaxRecords is the retained site-record ceiling.
const DefaultMaxRecords = 100

// Message is pushed to tabs.
type Message struct {
	ID      string         `json:"id"`
	Type    Kind           `json:"type"`
	Changes []store.Change `json:"changes,omitempty"`
	At      time.Time      `json:"at"`
}

// Tab is a registered page session.
type Tab interface {
	ID() string
	Deliver(ctx context.Context, msg Message) error
}

// Config for a Relay.
type Config struct {
	Store      *store.Store
	MaxRecords int
	// DeliverTimeout bounds each tab delivery.
	DeliverTimeout time.Duration
	Logger         *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxRecords <= 0 {
		c.MaxRecords = DefaultMaxRecords
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Relay fans store changes out to tabs.
type Relay struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	tabs    map[string]Tab
	queue   []Message
	wake    chan struct{}
	cancel  context.CancelFunc
	unsub   func()
	stopped chan struct{}
}

// New returns a Relay. Call Start to begin broadcasting.
func New(cfg Config) *Relay {
	cfg.defaults()
	return &Relay{
		cfg:    cfg,
		logger: cfg.Logger,
		tabs:   make(map[string]Tab),
		wake:   make(chan struct{}, 1),
	}
}

// Start sweeps excess records once, then subscribes to store changes and
// dispatches them until ctx ends or Stop is called.
func (r *Relay) Start(ctx context.Context) error {
	if _, err := r.Sweep(ctx); err != nil {
		// A failed sweep is retried at the next start.
		r.logger.Warn("relay: sweep", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	unsub := r.cfg.Store.Subscribe(r.enqueue)
	r.mu.Lock()
	r.cancel = cancel
	r.unsub = unsub
	r.stopped = make(chan struct{})
	stopped := r.stopped
	r.mu.Unlock()
	go func() {
		defer close(stopped)
		r.dispatch(ctx)
	}()
	return nil
}

// Stop ends broadcasting and waits for the dispatcher to exit.
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel, stopped, unsub := r.cancel, r.stopped, r.unsub
	r.cancel, r.unsub = nil, nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
		<-stopped
	}
}

// Register adds a tab. The returned function removes it.
func (r *Relay) Register(tab Tab) (unregister func()) {
	id := tab.ID()
	r.mu.Lock()
	r.tabs[id] = tab
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		if r.tabs[id] == tab {
			delete(r.tabs, id)
		}
		r.mu.Unlock()
	}
}

// Tabs returns the number of registered tabs.
func (r *Relay) Tabs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// enqueue runs on the store writer's goroutine and never blocks.
func (r *Relay) enqueue(changes []store.Change) {
	msg := NewMessage(StorageChanged)
	msg.Changes = changes

	r.mu.Lock()
	r.queue = append(r.queue, msg)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}

		r.mu.Lock()
		msgs := r.queue
		r.queue = nil
		r.mu.Unlock()

		for _, m := range msgs {
			r.Broadcast(ctx, m)
		}
	}
}

// Broadcast delivers msg to every registered tab in turn. A tab that fails or
// times out is skipped; nothing is retried.
func (r *Relay) Broadcast(ctx context.Context, msg Message) {
	r.mu.Lock()
	tabs := make([]Tab, 0, len(r.tabs))
	for _, t := range r.tabs {
		tabs = append(tabs, t)
	}
	r.mu.Unlock()

	for _, t := range tabs {
		tctx, cancel := context.WithTimeout(ctx, r.cfg.DeliverTimeout)
		err := t.Deliver(tctx, msg)
		cancel()
		if err != nil {
			r.logger.Debug("relay: tab unreachable", "tab", t.ID(), "type", msg.Type, "error", err)
		}
	}
}

// NewMessage returns a message with a fresh time-ordered ID.
func NewMessage(kind Kind) Message {
	return Message{ID: idgen.New(), Type: kind, At: time.Now().UTC()}
}
