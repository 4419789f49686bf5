package strategy

import (
	"context"
	"net/http"

	"github.com/lymanm67-lab/sacredgreeks-sub006/blobcache"
	"github.com/lymanm67-lab/sacredgreeks-sub006/classify"
)

// networkFirst serves data endpoints: await the network, cache a successful
// response in the runtime tier, and on failure return the cached copy if one
// exists. Data endpoints have no safe substitute content, so with no cached
// copy the network error propagates to the caller.
func (d *Dispatcher) networkFirst(ctx context.Context, req *Request) (*blobcache.Entry, error) {
	key := req.CacheKey()

	live, err := d.fetchBounded(ctx, req)
	if err == nil {
		if ok(live) {
			if perr := d.cache.Put(ctx, blobcache.Runtime, key, *live); perr != nil {
				d.logger.Warn("strategy: runtime cache write failed", "key", key, "error", perr)
			}
			d.sinkData(ctx, req, live)
		}
		d.emit(Decision{Class: classify.DataAPI, Key: key, Outcome: "network"})
		return live, nil
	}

	cached, cerr := d.cache.Get(ctx, blobcache.Runtime, key)
	if cerr == nil {
		d.logger.Info("strategy: network failed, serving cached data", "key", key, "error", err)
		d.emit(Decision{Class: classify.DataAPI, Key: key, Outcome: "cache", Err: err})
		return cached, nil
	}

	d.emit(Decision{Class: classify.DataAPI, Key: key, Outcome: "error", Err: err})
	return nil, err
}

// cacheFirst serves images: a media-tier hit returns without touching the
// network; a miss fetches and caches. A failed fetch degrades to a synthetic
// not-found entry so broken images render silently in the UI instead of
// surfacing an error.
func (d *Dispatcher) cacheFirst(ctx context.Context, req *Request) (*blobcache.Entry, error) {
	key := req.CacheKey()

	if cached, err := d.cache.Get(ctx, blobcache.Media, key); err == nil {
		d.emit(Decision{Class: classify.Image, Key: key, Outcome: "cache"})
		return cached, nil
	}

	live, err := d.fetchBounded(ctx, req)
	if err == nil {
		if ok(live) {
			if perr := d.cache.Put(ctx, blobcache.Media, key, *live); perr != nil {
				d.logger.Warn("strategy: media cache write failed", "key", key, "error", perr)
			}
		}
		d.emit(Decision{Class: classify.Image, Key: key, Outcome: "network"})
		return live, nil
	}

	d.emit(Decision{Class: classify.Image, Key: key, Outcome: "synthetic", Err: err})
	return syntheticNotFound(key), nil
}

// navigation serves full-page loads: network first, then the cached entry
// for the request itself, then the cached shell entry point, then the cached
// offline page, then a synthetic offline response. The chain always
// terminates in a renderable entry. This is the only path the user sees
// directly, so it never returns an error.
func (d *Dispatcher) navigation(ctx context.Context, req *Request) (*blobcache.Entry, error) {
	key := req.CacheKey()

	live, err := d.fetchBounded(ctx, req)
	if err == nil {
		if ok(live) {
			if perr := d.cache.Put(ctx, blobcache.Shell, key, *live); perr != nil {
				d.logger.Warn("strategy: shell cache write failed", "key", key, "error", perr)
			}
		}
		d.emit(Decision{Class: classify.Navigation, Key: key, Outcome: "network"})
		return live, nil
	}

	if cached, cerr := d.cache.Get(ctx, blobcache.Shell, key); cerr == nil {
		d.emit(Decision{Class: classify.Navigation, Key: key, Outcome: "cache", Err: err})
		return cached, nil
	}
	if cached, cerr := d.cache.Get(ctx, blobcache.Shell, d.cfg.ShellPath); cerr == nil {
		d.emit(Decision{Class: classify.Navigation, Key: key, Outcome: "shell", Err: err})
		return cached, nil
	}
	if cached, cerr := d.cache.Get(ctx, blobcache.Shell, d.cfg.OfflinePath); cerr == nil {
		d.emit(Decision{Class: classify.Navigation, Key: key, Outcome: "offline_page", Err: err})
		return cached, nil
	}

	d.logger.Warn("strategy: navigation offline with empty shell, serving synthetic page",
		"key", key, "error", err)
	d.emit(Decision{Class: classify.Navigation, Key: key, Outcome: "synthetic", Err: err})
	return syntheticOffline(key), nil
}

// staleWhileRevalidate serves static assets: a cached entry returns
// immediately while a detached background task refreshes it for next time.
// A miss awaits the network.
func (d *Dispatcher) staleWhileRevalidate(ctx context.Context, req *Request) (*blobcache.Entry, error) {
	key := req.CacheKey()

	cached, cerr := d.cache.Get(ctx, blobcache.Runtime, key)
	if cerr == nil {
		go d.revalidateAsync(context.WithoutCancel(ctx), req, key)
		d.emit(Decision{Class: classify.StaticAsset, Key: key, Outcome: "cache"})
		return cached, nil
	}

	live, err := d.fetchBounded(ctx, req)
	if err != nil {
		d.emit(Decision{Class: classify.StaticAsset, Key: key, Outcome: "error", Err: err})
		return nil, err
	}
	if ok(live) {
		if perr := d.cache.Put(ctx, blobcache.Runtime, key, *live); perr != nil {
			d.logger.Warn("strategy: runtime cache write failed", "key", key, "error", perr)
		}
	}
	d.emit(Decision{Class: classify.StaticAsset, Key: key, Outcome: "network"})
	return live, nil
}

// revalidateAsync refreshes one asset in the background. The requesting page
// may be long gone; the write settles regardless and the result is logged,
// never silently discarded.
func (d *Dispatcher) revalidateAsync(ctx context.Context, req *Request, key string) {
	live, err := d.fetchBounded(ctx, req)
	if err == nil && ok(live) {
		err = d.cache.Put(ctx, blobcache.Runtime, key, *live)
	}
	if err != nil {
		d.logger.Debug("strategy: background revalidation failed", "key", key, "error", err)
	}
	if d.revalidate != nil {
		d.revalidate(key, err)
	}
}

// sinkData hands a fresh data response to the ingest pipeline in a detached
// background task.
func (d *Dispatcher) sinkData(ctx context.Context, req *Request, e *blobcache.Entry) {
	if d.dataSink == nil {
		return
	}
	go d.dataSink(context.WithoutCancel(ctx), req, e)
}

// ok reports whether a live response is worth caching.
func ok(e *blobcache.Entry) bool {
	return e != nil && e.Status >= 200 && e.Status < 300
}

func syntheticNotFound(key string) *blobcache.Entry {
	return &blobcache.Entry{
		RequestKey: key,
		Status:     http.StatusNotFound,
		Header: http.Header{
			"Content-Type":       {"text/plain; charset=utf-8"},
			"X-Offline-Fallback": {"1"},
		},
	}
}

func syntheticOffline(key string) *blobcache.Entry {
	return &blobcache.Entry{
		RequestKey: key,
		Status:     http.StatusServiceUnavailable,
		Header: http.Header{
			"Content-Type":       {"text/html; charset=utf-8"},
			"X-Offline-Fallback": {"1"},
		},
		Body: []byte("<!doctype html><html><head><title>Offline</title></head>" +
			"<body><h1>You are offline</h1><p>Reconnect to continue.</p></body></html>"),
	}
}
