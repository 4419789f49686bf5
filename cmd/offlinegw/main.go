// Command offlinegw runs the offline gateway: it precaches the application
// shell, routes app traffic through the caching strategies, keeps a typed
// record store warm from data responses, and replays queued writes when the
// upstream comes back.
package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lymanm67-lab/sacredgreeks-sub006/blobcache"
	"github.com/lymanm67-lab/sacredgreeks-sub006/bridge"
	"github.com/lymanm67-lab/sacredgreeks-sub006/classify"
	"github.com/lymanm67-lab/sacredgreeks-sub006/dbopen"
	"github.com/lymanm67-lab/sacredgreeks-sub006/eventlog"
	"github.com/lymanm67-lab/sacredgreeks-sub006/gateway"
	"github.com/lymanm67-lab/sacredgreeks-sub006/ingest"
	"github.com/lymanm67-lab/sacredgreeks-sub006/manifest"
	"github.com/lymanm67-lab/sacredgreeks-sub006/replay"
	"github.com/lymanm67-lab/sacredgreeks-sub006/store"
	"github.com/lymanm67-lab/sacredgreeks-sub006/strategy"
)

func main() {
	cfg, err := LoadConfig(os.Getenv("CONFIG"))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Blob cache DB.
	cacheDB, err := dbopen.Open(cfg.CacheDB, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("cache db", "error", err)
		os.Exit(1)
	}
	defer cacheDB.Close()

	cache := blobcache.New(cacheDB, blobcache.Generation{Name: cfg.Generation}, blobcache.WithLogger(logger))
	if err := cache.Init(ctx); err != nil {
		slog.Error("cache init", "error", err)
		os.Exit(1)
	}

	// Typed record store DB.
	storeDB, err := dbopen.Open(cfg.StoreDB, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("store db", "error", err)
		os.Exit(1)
	}
	defer storeDB.Close()

	st := store.New(storeDB, store.WithLogger(logger))
	if err := st.Init(ctx); err != nil {
		slog.Error("store init", "error", err)
		os.Exit(1)
	}

	// Decision event log DB.
	eventsDB, err := dbopen.Open(cfg.EventsDB, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("events db", "error", err)
		os.Exit(1)
	}
	defer eventsDB.Close()

	events := eventlog.New(eventsDB, eventlog.WithLogger(logger))
	if err := events.Init(); err != nil {
		slog.Error("events init", "error", err)
		os.Exit(1)
	}
	defer events.Close()

	// Upstream fetcher.
	upstream, err := gateway.NewUpstream(cfg.Upstream)
	if err != nil {
		slog.Error("upstream", "error", err)
		os.Exit(1)
	}

	pipeline := ingest.New(st, ingest.WithLogger(logger))

	dispatcher := strategy.New(cache, upstream, strategy.Config{
		ShellPath:      cfg.ShellPath,
		OfflinePath:    cfg.OfflinePath,
		NetworkTimeout: cfg.NetworkTimeout,
	},
		strategy.WithLogger(logger),
		strategy.WithObserver(events.Observer()),
		strategy.WithDataSink(pipeline.Sink()),
	)

	queue := replay.New(cache, upstream, replay.WithLogger(logger))

	br := bridge.New(
		bridge.WithLogger(logger),
		bridge.WithActivator(cache.Activate),
		bridge.WithReplayFlusher(func(ctx context.Context) error {
			_, err := queue.Flush(ctx)
			return err
		}),
		bridge.WithUpdateCheck(func(ctx context.Context) (string, bool, error) {
			pending, err := cache.PendingGeneration(ctx)
			if err != nil {
				return "", false, err
			}
			return pending, pending != "", nil
		}),
	)

	// Install the shell when the deployed generation changed. The very
	// first install activates immediately; an update stays pending until
	// clients close or one sends ACTIVATE_NOW.
	if err := installShell(ctx, cfg, cache, upstream); err != nil {
		slog.Error("shell install", "error", err)
		os.Exit(1)
	}

	classifier := classify.New(classify.Config{
		SelfOrigin:     cfg.Upstream,
		AllowedOrigins: cfg.AllowedOrigins,
		BackendHosts:   cfg.BackendHosts,
	})

	gw := gateway.New(classifier, dispatcher, cache,
		gateway.WithLogger(logger),
		gateway.WithReplayQueue(queue),
		gateway.WithBridge(br),
		gateway.WithEventLog(events),
	)

	go br.Watch(ctx, cfg.UpdateInterval)
	go retentionLoop(ctx, st, events, cfg.Retention, logger)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("offline gateway listening",
			"addr", cfg.Listen, "upstream", cfg.Upstream, "generation", cfg.Generation)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
}

// installShell precaches the manifest into the configured generation when
// it is not the active one yet.
func installShell(ctx context.Context, cfg *Config, cache *blobcache.Manager, upstream *gateway.Upstream) error {
	current, err := cache.CurrentGeneration(ctx)
	if err != nil {
		return err
	}
	if current == cfg.Generation {
		slog.Info("generation already active", "generation", cfg.Generation)
		return nil
	}

	m, err := manifest.New(cfg.Upstream, cfg.Precache...)
	if err != nil {
		return err
	}

	fetch := fetchByURL(upstream)

	if cfg.DiscoverAssets {
		if entry, ferr := fetch(ctx, cfg.ShellPath); ferr == nil && entry.Status == http.StatusOK {
			added, derr := m.DiscoverAssets(bytes.NewReader(entry.Body))
			if derr != nil {
				slog.Warn("asset discovery failed", "error", derr)
			} else if len(added) > 0 {
				slog.Info("assets discovered", "count", len(added))
			}
		} else {
			slog.Warn("shell fetch for discovery failed", "error", ferr)
		}
	}

	report, err := cache.Install(ctx, m.URLs(), fetch)
	if err != nil {
		return err
	}
	slog.Info("shell installed",
		"generation", cfg.Generation,
		"requested", report.Requested,
		"cached", report.Cached,
		"failed", len(report.Failed))

	// First boot has no active generation to protect.
	if current == "" {
		if err := cache.Activate(ctx); err != nil {
			return err
		}
		slog.Info("generation activated", "generation", cfg.Generation)
	} else {
		slog.Info("generation pending activation", "generation", cfg.Generation)
	}
	return nil
}

// fetchByURL adapts the upstream fetcher to the install callback.
func fetchByURL(upstream *gateway.Upstream) blobcache.FetchFunc {
	return func(ctx context.Context, rawURL string) (*blobcache.Entry, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		return upstream.Fetch(ctx, &strategy.Request{Method: http.MethodGet, URL: u})
	}
}

// retentionLoop prunes stale records and old decision events daily.
func retentionLoop(ctx context.Context, st *store.Store, events *eventlog.Log, retention time.Duration, logger *slog.Logger) {
	if retention == 0 {
		retention = store.DefaultRetention
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := st.Cleanup(ctx, retention)
			if err != nil {
				logger.Warn("retention cleanup failed", "error", err)
			} else if report.Total() > 0 {
				logger.Info("retention cleanup", "removed", report.Total())
			}
			if n, err := events.Prune(ctx, time.Now().Add(-retention)); err != nil {
				logger.Warn("event prune failed", "error", err)
			} else if n > 0 {
				logger.Info("event prune", "removed", n)
			}
		}
	}
}
