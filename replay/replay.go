// Package replay records actions attempted while offline and replays them
// when connectivity returns.
//
// Entries are ordinary runtime-tier cache entries whose request key carries
// the reserved marker prefix, so they survive restarts with no storage of
// their own and are evicted together with their generation. Flush enumerates
// the marker keys, re-issues each request independently, and deletes an
// entry only after its replay succeeds. No ordering is guaranteed across
// entries.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"

	"github.com/lymanm67-lab/sacredgreeks-sub006/blobcache"
	"github.com/lymanm67-lab/sacredgreeks-sub006/idgen"
	"github.com/lymanm67-lab/sacredgreeks-sub006/strategy"
)

// Marker is the reserved key prefix that tags a runtime-tier entry as a
// replay entry. Request keys never collide with it: it is not a valid path.
const Marker = "offline-replay:"

// OutboundRequest is the serialized form of a deferred action.
type OutboundRequest struct {
	Method string              `json:"method"`
	URL    string              `json:"url"`
	Header map[string][]string `json:"header,omitempty"`
	Body   []byte              `json:"body,omitempty"`
}

// FlushReport summarises one Flush pass.
type FlushReport struct {
	Attempted int
	Replayed  int
	Remaining int
}

// Queue persists deferred actions in the blob cache's runtime tier.
type Queue struct {
	cache    *blobcache.Manager
	fetcher  strategy.Fetcher
	logger   *slog.Logger
	newID    idgen.Generator
	attempts uint
	delay    time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithIDGenerator sets a custom ID generator for entry keys.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(q *Queue) { q.newID = gen }
}

// WithAttempts sets how many times one entry is tried per Flush. Default: 3.
func WithAttempts(n uint) Option {
	return func(q *Queue) { q.attempts = n }
}

// WithRetryDelay sets the base backoff between attempts. Default: 200ms.
func WithRetryDelay(d time.Duration) Option {
	return func(q *Queue) { q.delay = d }
}

// New creates a Queue over the given cache and network fetcher.
func New(cache *blobcache.Manager, fetcher strategy.Fetcher, opts ...Option) *Queue {
	q := &Queue{
		cache:    cache,
		fetcher:  fetcher,
		logger:   slog.Default(),
		newID:    idgen.Prefixed(Marker, idgen.UUIDv7()),
		attempts: 3,
		delay:    200 * time.Millisecond,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue persists a deferred action and returns its entry key. UUIDv7 keys
// make a prefix scan return entries roughly in creation order, though Flush
// does not rely on that.
func (q *Queue) Enqueue(ctx context.Context, req OutboundRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("replay: encode entry: %w", err)
	}

	key := q.newID()
	entry := blobcache.Entry{
		Status: http.StatusAccepted,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   payload,
	}
	if err := q.cache.Put(ctx, blobcache.Runtime, key, entry); err != nil {
		return "", fmt.Errorf("replay: enqueue: %w", err)
	}

	q.logger.Info("replay: action deferred", "key", key, "method", req.Method, "url", req.URL)
	return key, nil
}

// Pending returns the keys of all queued entries.
func (q *Queue) Pending(ctx context.Context) ([]string, error) {
	keys, err := q.cache.ListKeys(ctx, blobcache.Runtime, Marker)
	if err != nil {
		return nil, fmt.Errorf("replay: pending: %w", err)
	}
	return keys, nil
}

// Flush replays every queued entry. Each entry is independent: success
// deletes it, failure leaves it for the next flush trigger. Flush returns an
// error only when the queue itself cannot be read.
func (q *Queue) Flush(ctx context.Context) (FlushReport, error) {
	keys, err := q.Pending(ctx)
	if err != nil {
		return FlushReport{}, err
	}

	report := FlushReport{Attempted: len(keys)}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			report.Remaining = report.Attempted - report.Replayed
			return report, fmt.Errorf("replay: flush interrupted: %w", err)
		}

		if err := q.replayOne(ctx, key); err != nil {
			q.logger.Warn("replay: entry failed, keeping for next flush",
				"key", key, "error", err)
			continue
		}
		if _, err := q.cache.Delete(ctx, blobcache.Runtime, key); err != nil {
			q.logger.Warn("replay: delete after success failed", "key", key, "error", err)
			continue
		}
		report.Replayed++
	}
	report.Remaining = report.Attempted - report.Replayed

	if report.Attempted > 0 {
		q.logger.Info("replay: flush complete",
			"attempted", report.Attempted,
			"replayed", report.Replayed,
			"remaining", report.Remaining)
	}
	return report, nil
}

func (q *Queue) replayOne(ctx context.Context, key string) error {
	entry, err := q.cache.Get(ctx, blobcache.Runtime, key)
	if err != nil {
		return err
	}

	var out OutboundRequest
	if err := json.Unmarshal(entry.Body, &out); err != nil {
		return fmt.Errorf("replay: decode entry %s: %w", key, err)
	}
	u, err := url.Parse(out.URL)
	if err != nil {
		return fmt.Errorf("replay: entry %s url: %w", key, err)
	}

	req := &strategy.Request{Method: out.Method, URL: u, Header: http.Header(out.Header), Body: out.Body}
	return retry.Do(
		func() error {
			resp, err := q.fetcher.Fetch(ctx, req)
			if err != nil {
				return err
			}
			if resp.Status >= 500 {
				return fmt.Errorf("replay: upstream status %d", resp.Status)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(q.attempts),
		retry.Delay(q.delay),
		retry.LastErrorOnly(true),
	)
}
