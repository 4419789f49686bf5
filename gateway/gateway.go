// Package gateway is the HTTP front of the offline layer. It intercepts
// every app request, classifies it, lets the strategy dispatcher resolve it
// from cache or network, and exposes a small control surface under
// /offline/ for activation, push, replay and status.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lymanm67-lab/sacredgreeks-sub006/blobcache"
	"github.com/lymanm67-lab/sacredgreeks-sub006/bridge"
	"github.com/lymanm67-lab/sacredgreeks-sub006/classify"
	"github.com/lymanm67-lab/sacredgreeks-sub006/eventlog"
	"github.com/lymanm67-lab/sacredgreeks-sub006/replay"
	"github.com/lymanm67-lab/sacredgreeks-sub006/strategy"
)

// maxControlBody caps inbound control and push payloads.
const maxControlBody = 64 << 10 // 64 KB

// Gateway routes app traffic through the caching layer.
type Gateway struct {
	classifier *classify.Classifier
	dispatcher *strategy.Dispatcher
	cache      *blobcache.Manager

	queue  *replay.Queue
	bridge *bridge.Bridge
	events *eventlog.Log
	logger *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithReplayQueue enables deferred replay of failed write requests.
func WithReplayQueue(q *replay.Queue) Option {
	return func(g *Gateway) { g.queue = q }
}

// WithBridge enables the control, push and event endpoints.
func WithBridge(b *bridge.Bridge) Option {
	return func(g *Gateway) { g.bridge = b }
}

// WithEventLog enables the decision history endpoint.
func WithEventLog(lg *eventlog.Log) Option {
	return func(g *Gateway) { g.events = lg }
}

// New creates a Gateway.
func New(cl *classify.Classifier, d *strategy.Dispatcher, cache *blobcache.Manager, opts ...Option) *Gateway {
	g := &Gateway{
		classifier: cl,
		dispatcher: d,
		cache:      cache,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Router builds the HTTP handler: the /offline control surface plus a
// catch-all that routes everything else through the caching strategies.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(g.requestLogger)

	r.Route("/offline", func(r chi.Router) {
		r.Post("/control", g.handleControl)
		r.Post("/push", g.handlePush)
		r.Post("/replay", g.handleReplay)
		r.Get("/events", g.handleEvents)
		r.Get("/status", g.handleStatus)
	})
	r.Handle("/*", http.HandlerFunc(g.serve))

	return r
}

// serve resolves one app request through the strategy dispatcher.
func (g *Gateway) serve(w http.ResponseWriter, r *http.Request) {
	class := g.classifier.Classify(classify.FromHTTP(r))

	if class == classify.Ineligible && r.Method != http.MethodGet && r.Method != http.MethodHead {
		g.serveWrite(w, r)
		return
	}

	req := &strategy.Request{Method: r.Method, URL: r.URL, Header: r.Header}
	entry, err := g.dispatcher.Dispatch(r.Context(), req, class)
	if err != nil {
		g.logger.Warn("gateway: dispatch failed",
			"method", r.Method, "url", r.URL.String(), "class", class.String(), "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		return
	}
	writeEntry(w, entry)
}

// serveWrite proxies a mutating request straight upstream. When the
// upstream is unreachable and a replay queue is configured, the request is
// queued for later replay and acknowledged with 202.
func (g *Gateway) serveWrite(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpstreamBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable request body"})
		return
	}

	out := replay.OutboundRequest{
		Method: r.Method,
		URL:    r.URL.String(),
		Header: r.Header,
		Body:   body,
	}

	entry, err := g.proxyWrite(r, body)
	if err == nil {
		writeEntry(w, entry)
		return
	}

	if g.queue == nil {
		g.logger.Warn("gateway: write passthrough failed", "url", out.URL, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		return
	}

	key, qerr := g.queue.Enqueue(r.Context(), out)
	if qerr != nil {
		g.logger.Error("gateway: replay enqueue failed", "url", out.URL, "error", qerr)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		return
	}
	g.logger.Info("gateway: write queued for replay", "url", out.URL, "key", key)
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "key": key})
}

// proxyWrite sends one mutating request upstream through the dispatcher's
// fetch path but without cache involvement.
func (g *Gateway) proxyWrite(r *http.Request, body []byte) (*blobcache.Entry, error) {
	fetcher := g.dispatcher.Fetcher()
	req := &strategy.Request{Method: r.Method, URL: r.URL, Header: r.Header, Body: body}
	entry, err := fetcher.Fetch(r.Context(), req)
	if err != nil {
		return nil, err
	}
	if entry.Status >= 500 {
		return nil, errors.New("gateway: upstream returned server error")
	}
	return entry, nil
}

func (g *Gateway) handleControl(w http.ResponseWriter, r *http.Request) {
	if g.bridge == nil {
		http.NotFound(w, r)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if err := g.bridge.HandleControl(r.Context(), raw); err != nil {
		var unknown *bridge.ErrUnknownControl
		if errors.As(err, &unknown) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": unknown.Error()})
			return
		}
		g.logger.Error("gateway: control message failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "control message failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handlePush(w http.ResponseWriter, r *http.Request) {
	if g.bridge == nil {
		http.NotFound(w, r)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	payload, err := g.bridge.HandlePush(raw)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (g *Gateway) handleReplay(w http.ResponseWriter, r *http.Request) {
	if g.queue == nil {
		http.NotFound(w, r)
		return
	}
	report, err := g.queue.Flush(r.Context())
	if err != nil {
		g.logger.Error("gateway: replay flush failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "replay flush failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"attempted": report.Attempted,
		"replayed":  report.Replayed,
		"remaining": report.Remaining,
	})
}

func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if g.events == nil {
		http.NotFound(w, r)
		return
	}
	entries, err := g.events.Recent(r.Context(), 100)
	if err != nil {
		g.logger.Error("gateway: event history query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event history unavailable"})
		return
	}
	if entries == nil {
		entries = []*eventlog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	current, err := g.cache.CurrentGeneration(ctx)
	if err != nil {
		g.logger.Error("gateway: status query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "status unavailable"})
		return
	}
	pending, err := g.cache.PendingGeneration(ctx)
	if err != nil {
		g.logger.Error("gateway: status query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "status unavailable"})
		return
	}

	status := map[string]any{
		"generation": map[string]string{"current": current, "pending": pending},
	}
	counts := map[string]int{}
	for _, kind := range []blobcache.TierKind{blobcache.Shell, blobcache.Runtime, blobcache.Media} {
		n, err := g.cache.Count(ctx, kind)
		if err != nil {
			continue
		}
		counts[kind.String()] = n
	}
	status["entries"] = counts

	if g.queue != nil {
		if pending, err := g.queue.Pending(ctx); err == nil {
			status["replay_pending"] = len(pending)
		}
	}
	if g.bridge != nil {
		status["clients"] = len(g.bridge.Clients())
	}
	writeJSON(w, http.StatusOK, status)
}

// requestLogger logs one line per request at debug level.
func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		g.logger.Debug("gateway: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}

// writeEntry renders a cached or fetched entry as the HTTP response.
func writeEntry(w http.ResponseWriter, e *blobcache.Entry) {
	for k, vs := range e.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(e.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
