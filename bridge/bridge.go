// Package bridge is the cross-cutting message channel between foreground
// clients and the background caching layer.
//
// Inbound it accepts two control messages: "activate the pending generation
// now" and "a push payload arrived". Outbound it broadcasts lifecycle events
// (a newer generation is available, a generation was activated, a
// notification should render) to every registered foreground client.
//
// The bridge owns no cache state. The lifecycle operations it triggers are
// injected at construction, so it is testable without a blob cache or a
// network.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event types broadcast to foreground clients.
const (
	EventUpdateAvailable     = "update-available"
	EventGenerationActivated = "generation-activated"
	EventNotification        = "notification"
)

// ControlActivateNow is the inbound control message type that activates the
// pending generation without waiting for open clients to close.
const ControlActivateNow = "ACTIVATE_NOW"

// Event is one broadcast message.
type Event struct {
	Type       string       `json:"type"`
	Generation string       `json:"generation,omitempty"`
	Payload    *PushPayload `json:"payload,omitempty"`
}

// Client is one registered foreground client. Events arrive on a buffered
// channel; a client that stops draining loses events rather than blocking
// the broadcaster.
type Client struct {
	ID       string
	FocusURL string // the URL the client is currently showing
	ch       chan Event
}

// Events returns the client's event stream.
func (c *Client) Events() <-chan Event { return c.ch }

// controlMessage is the wire form of an inbound control message.
type controlMessage struct {
	Type string `json:"type"`
}

// Bridge routes control messages and broadcasts lifecycle events.
type Bridge struct {
	mu      sync.RWMutex
	clients map[string]*Client

	activate    func(ctx context.Context) error
	flushReplay func(ctx context.Context) error
	checkUpdate func(ctx context.Context) (generation string, available bool, err error)

	logger *slog.Logger
	buffer int
	push   *pushValidator
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithActivator wires the "activate pending generation" operation,
// typically blobcache.Manager.Activate.
func WithActivator(fn func(ctx context.Context) error) Option {
	return func(b *Bridge) { b.activate = fn }
}

// WithReplayFlusher wires the reconnect trigger to the replay queue.
func WithReplayFlusher(fn func(ctx context.Context) error) Option {
	return func(b *Bridge) { b.flushReplay = fn }
}

// WithUpdateCheck wires the periodic update probe. It reports the newer
// generation's name when one is waiting.
func WithUpdateCheck(fn func(ctx context.Context) (string, bool, error)) Option {
	return func(b *Bridge) { b.checkUpdate = fn }
}

// WithClientBuffer sets the per-client event buffer. Default: 8.
func WithClientBuffer(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// New creates a Bridge.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		clients: make(map[string]*Client),
		logger:  slog.Default(),
		buffer:  8,
		push:    newPushValidator(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Register adds a foreground client and returns its event stream handle.
// Re-registering an ID replaces the previous handle.
func (b *Bridge) Register(id, focusURL string) *Client {
	c := &Client{ID: id, FocusURL: focusURL, ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	if old, ok := b.clients[id]; ok {
		close(old.ch)
	}
	b.clients[id] = c
	b.mu.Unlock()

	b.logger.Debug("bridge: client registered", "id", id, "url", focusURL)
	return c
}

// Unregister removes a client and closes its event stream.
func (b *Bridge) Unregister(id string) {
	b.mu.Lock()
	if c, ok := b.clients[id]; ok {
		close(c.ch)
		delete(b.clients, id)
	}
	b.mu.Unlock()
}

// Clients returns a snapshot of the registered clients.
func (b *Bridge) Clients() []*Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast delivers ev to every registered client, returning how many
// received it. Sends never block: a client with a full buffer is skipped.
func (b *Bridge) Broadcast(ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, c := range b.clients {
		select {
		case c.ch <- ev:
			delivered++
		default:
			b.logger.Warn("bridge: client buffer full, event dropped",
				"client", c.ID, "event", ev.Type)
		}
	}
	return delivered
}

// HandleControl processes one inbound control message from a foreground
// client. ACTIVATE_NOW bypasses waiting-for-close: the pending generation is
// activated immediately and the activation is broadcast.
func (b *Bridge) HandleControl(ctx context.Context, raw []byte) error {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("bridge: decode control message: %w", err)
	}

	switch msg.Type {
	case ControlActivateNow:
		if b.activate == nil {
			return &ErrUnknownControl{Type: msg.Type}
		}
		if err := b.activate(ctx); err != nil {
			return fmt.Errorf("bridge: activate now: %w", err)
		}
		b.Broadcast(Event{Type: EventGenerationActivated})
		b.logger.Info("bridge: pending generation activated on request")
		return nil
	default:
		return &ErrUnknownControl{Type: msg.Type}
	}
}

// TriggerReplay is the reconnect signal: it flushes the replay queue.
func (b *Bridge) TriggerReplay(ctx context.Context) error {
	if b.flushReplay == nil {
		return nil
	}
	if err := b.flushReplay(ctx); err != nil {
		return fmt.Errorf("bridge: replay flush: %w", err)
	}
	return nil
}

// CheckForUpdate runs one update probe and broadcasts update-available when
// a newer generation is waiting. Returns whether one was found.
func (b *Bridge) CheckForUpdate(ctx context.Context) (bool, error) {
	if b.checkUpdate == nil {
		return false, nil
	}
	gen, available, err := b.checkUpdate(ctx)
	if err != nil {
		return false, fmt.Errorf("bridge: update check: %w", err)
	}
	if !available {
		return false, nil
	}
	n := b.Broadcast(Event{Type: EventUpdateAvailable, Generation: gen})
	b.logger.Info("bridge: update available", "generation", gen, "notified", n)
	return true, nil
}

// Watch runs the periodic update probe until ctx is cancelled.
func (b *Bridge) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.logger.Info("bridge: update watcher started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge: update watcher stopped")
			return
		case <-ticker.C:
			if _, err := b.CheckForUpdate(ctx); err != nil {
				b.logger.Warn("bridge: update check failed", "error", err)
			}
		}
	}
}

// ClickDecision is the routing outcome of a notification click.
type ClickDecision struct {
	Focus    bool   // focus an existing client instead of opening a new one
	ClientID string // set when Focus is true
	URL      string // target URL; empty for dismiss
}

// RouteClick resolves a notification click. "open" (or a body click, which
// callers pass as "open") focuses an existing client already showing the
// target URL if one exists, otherwise instructs opening a new one.
// "dismiss" is a no-op beyond closing the notification.
func (b *Bridge) RouteClick(action, targetURL string) ClickDecision {
	if action == "dismiss" {
		return ClickDecision{}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		if c.FocusURL == targetURL {
			return ClickDecision{Focus: true, ClientID: c.ID, URL: targetURL}
		}
	}
	return ClickDecision{URL: targetURL}
}
