// Package ingest feeds fresh data-API responses into the structured record
// store. It runs off the request path: the strategy dispatcher hands it
// successful responses in a background task, and every failure is logged
// rather than surfaced to the client.
//
// Rich HTML fields are sanitized and converted to markdown before storage
// so offline rendering never executes markup fetched from the network.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"

	"github.com/lymanm67-lab/sacredgreeks-sub006/blobcache"
	"github.com/lymanm67-lab/sacredgreeks-sub006/store"
	"github.com/lymanm67-lab/sacredgreeks-sub006/strategy"
)

// Pipeline decodes data-API responses and upserts typed records.
type Pipeline struct {
	store    *store.Store
	logger   *slog.Logger
	sanitize *bluemonday.Policy
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a Pipeline writing into st.
func New(st *store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    st,
		logger:   slog.Default(),
		sanitize: bluemonday.UGCPolicy(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Sink adapts the pipeline to the dispatcher's data-sink hook. It never
// returns an error to the caller; ingest problems are logged.
func (p *Pipeline) Sink() func(ctx context.Context, req *strategy.Request, e *blobcache.Entry) {
	return func(ctx context.Context, req *strategy.Request, e *blobcache.Entry) {
		if !isJSON(e) {
			return
		}
		n, err := p.Ingest(ctx, req.URL.Path, e.Body)
		if err != nil {
			p.logger.Warn("ingest: response discarded",
				"path", req.URL.Path, "error", err)
			return
		}
		if n > 0 {
			p.logger.Debug("ingest: records stored", "path", req.URL.Path, "count", n)
		}
	}
}

// Ingest routes one response body by its request path and returns how many
// records were stored. Paths that carry no typed records return (0, nil).
func (p *Pipeline) Ingest(ctx context.Context, path string, body []byte) (int, error) {
	switch {
	case strings.Contains(path, "/devotionals"):
		return p.ingestDevotionals(ctx, body)
	case strings.Contains(path, "/prayers"):
		return p.ingestPrayers(ctx, body)
	case strings.Contains(path, "/verses"):
		return p.ingestVerses(ctx, body)
	case strings.Contains(path, "/study"):
		return p.ingestMaterials(ctx, body)
	default:
		return 0, nil
	}
}

// richText sanitizes one HTML fragment and converts it to markdown. When
// conversion fails the sanitized HTML is kept as-is.
func (p *Pipeline) richText(raw string) string {
	clean := p.sanitize.Sanitize(raw)
	md, err := htmltomarkdown.ConvertString(clean)
	if err != nil {
		p.logger.Warn("ingest: markdown conversion failed", "error", err)
		return strings.TrimSpace(clean)
	}
	return strings.TrimSpace(md)
}

// plainText strips all markup from one field.
func (p *Pipeline) plainText(raw string) string {
	return strings.TrimSpace(bluemonday.StrictPolicy().Sanitize(raw))
}

// decodeMany accepts either a single JSON object or a JSON array of them.
func decodeMany[T any](body []byte) ([]T, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var many []T
		if err := json.Unmarshal(body, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one T
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}

func isJSON(e *blobcache.Entry) bool {
	ct := e.Header.Get("Content-Type")
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
