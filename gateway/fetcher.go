package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lymanm67-lab/sacredgreeks-sub006/blobcache"
	"github.com/lymanm67-lab/sacredgreeks-sub006/strategy"
)

// maxUpstreamBody caps how much of an upstream response is buffered into
// the cache. Responses over the cap are rejected rather than truncated.
const maxUpstreamBody = 8 << 20 // 8 MB

// Upstream adapts an http.Client to the dispatcher's Fetcher interface.
// Relative request URLs are resolved against the configured origin.
type Upstream struct {
	base    *url.URL
	client  *http.Client
	maxBody int64
}

// UpstreamOption configures an Upstream.
type UpstreamOption func(*Upstream)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) UpstreamOption {
	return func(u *Upstream) { u.client = c }
}

// WithMaxBody overrides the response size cap.
func WithMaxBody(n int64) UpstreamOption {
	return func(u *Upstream) {
		if n > 0 {
			u.maxBody = n
		}
	}
}

// NewUpstream creates a fetcher for the given absolute origin URL.
func NewUpstream(origin string, opts ...UpstreamOption) (*Upstream, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse upstream origin: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway: upstream origin %q must be absolute", origin)
	}

	u := &Upstream{
		base:    base,
		client:  &http.Client{Timeout: 30 * time.Second},
		maxBody: maxUpstreamBody,
	}
	for _, o := range opts {
		o(u)
	}
	return u, nil
}

// Fetch performs one upstream request and buffers the response.
func (u *Upstream) Fetch(ctx context.Context, req *strategy.Request) (*blobcache.Entry, error) {
	target := u.base.ResolveReference(req.URL)

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("gateway: build upstream request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}

	resp, err := u.client.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("gateway: upstream fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, u.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("gateway: read upstream body: %w", err)
	}
	if int64(len(respBody)) > u.maxBody {
		return nil, fmt.Errorf("gateway: upstream response for %s exceeds %d bytes", target, u.maxBody)
	}

	return &blobcache.Entry{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   respBody,
	}, nil
}
