// Package strategy executes the caching strategy associated with a request
// class: network-first for data endpoints, cache-first for images,
// network-first with an ordered fallback chain for navigations, and
// stale-while-revalidate for static assets.
//
// The dispatcher holds no per-key locks. Concurrent dispatches for the same
// key race and the last successful cache write wins. Entries are idempotent
// snapshots of externally authoritative data, so no merge semantics exist.
package strategy

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/lymanm67-lab/sacredgreeks-sub006/blobcache"
	"github.com/lymanm67-lab/sacredgreeks-sub006/classify"
)

// Request is an intercepted request as the dispatcher sees it. Body is
// only set for mutating requests that bypass the cache.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// CacheKey returns the key the request's response is stored under.
// Same-origin requests key by path+query, cross-origin ones by full URL.
func (r *Request) CacheKey() string {
	if r.URL.Host == "" {
		return r.URL.RequestURI()
	}
	return r.URL.String()
}

// Fetcher retrieves a request from the live network.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*blobcache.Entry, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*blobcache.Entry, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*blobcache.Entry, error) {
	return f(ctx, req)
}

// Config holds the strategy parameters. Values are fixed at construction,
// there is no module-level mutable state.
type Config struct {
	// ShellPath is the cached application entry point, the first fallback
	// for failed navigations.
	ShellPath string
	// OfflinePath is the dedicated offline page, the second fallback.
	OfflinePath string
	// NetworkTimeout bounds every network-first fetch so a slow network
	// cannot block the fallback chain indefinitely. Zero disables the bound.
	NetworkTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ShellPath == "" {
		c.ShellPath = "/"
	}
	if c.OfflinePath == "" {
		c.OfflinePath = "/offline.html"
	}
	if c.NetworkTimeout == 0 {
		c.NetworkTimeout = 8 * time.Second
	}
}

// Decision records how one dispatch was resolved, for the debug event log.
type Decision struct {
	Class   classify.Class
	Key     string
	Outcome string // "network", "cache", "shell", "offline_page", "synthetic", "error"
	Err     error
}

// Dispatcher executes one strategy per request class.
type Dispatcher struct {
	cache   *blobcache.Manager
	fetcher Fetcher
	cfg     Config
	logger  *slog.Logger

	observe    func(Decision)
	dataSink   func(ctx context.Context, req *Request, e *blobcache.Entry)
	revalidate func(key string, err error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithObserver registers a callback invoked once per dispatch with the
// resolved Decision. The gateway wires this to the debug event log.
func WithObserver(fn func(Decision)) Option {
	return func(d *Dispatcher) { d.observe = fn }
}

// WithDataSink registers a callback invoked in a background task for every
// successfully fetched data response, after it has been cached. The gateway
// wires the structured-store ingest pipeline here.
func WithDataSink(fn func(ctx context.Context, req *Request, e *blobcache.Entry)) Option {
	return func(d *Dispatcher) { d.dataSink = fn }
}

// WithRevalidateHook registers a callback invoked when a background
// stale-while-revalidate refresh settles. Tests use it to synchronise;
// production leaves it nil and relies on the logged result.
func WithRevalidateHook(fn func(key string, err error)) Option {
	return func(d *Dispatcher) { d.revalidate = fn }
}

// New creates a Dispatcher over the given cache and network fetcher.
func New(cache *blobcache.Manager, fetcher Fetcher, cfg Config, opts ...Option) *Dispatcher {
	cfg.defaults()
	d := &Dispatcher{
		cache:   cache,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch serves req according to its class. Navigation and Image never
// return an error; DataAPI propagates network failure when no cached copy
// exists; Ineligible passes straight through to the network.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request, class classify.Class) (*blobcache.Entry, error) {
	switch class {
	case classify.DataAPI:
		return d.networkFirst(ctx, req)
	case classify.Image:
		return d.cacheFirst(ctx, req)
	case classify.Navigation:
		return d.navigation(ctx, req)
	case classify.StaticAsset:
		return d.staleWhileRevalidate(ctx, req)
	default:
		e, err := d.fetchBounded(ctx, req)
		d.emit(Decision{Class: class, Key: req.CacheKey(), Outcome: outcomeOf(err), Err: err})
		return e, err
	}
}

// Fetcher exposes the network fetcher for callers that bypass the cache,
// such as write passthrough and replay.
func (d *Dispatcher) Fetcher() Fetcher { return d.fetcher }

func (d *Dispatcher) emit(dec Decision) {
	if d.observe != nil {
		d.observe(dec)
	}
}

// fetchBounded fetches with the configured network timeout so a hung
// network call cannot stall a fallback chain.
func (d *Dispatcher) fetchBounded(ctx context.Context, req *Request) (*blobcache.Entry, error) {
	if d.cfg.NetworkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.NetworkTimeout)
		defer cancel()
	}
	return d.fetcher.Fetch(ctx, req)
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "network"
}
