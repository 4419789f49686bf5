// Package classify maps an intercepted request to its handling class.
//
// Classification is a pure function over a narrow request view; it never
// touches the network or the cache, so the strategy table can be tested
// without a host runtime.
package classify

import (
	"net/http"
	"net/url"
	"strings"
)

// Class is the handling class of an intercepted request.
type Class int

const (
	Ineligible  Class = iota // never touches the cache
	DataAPI                  // network-first against the runtime tier
	Image                    // cache-first against the media tier
	Navigation               // network-first with ordered fallback chain
	StaticAsset              // stale-while-revalidate against the runtime tier
)

// String returns the class name used in logs and the event log.
func (c Class) String() string {
	switch c {
	case Ineligible:
		return "ineligible"
	case DataAPI:
		return "data_api"
	case Image:
		return "image"
	case Navigation:
		return "navigation"
	case StaticAsset:
		return "static_asset"
	}
	return "unknown"
}

// Request is the narrow view of an intercepted request that classification
// needs: method, target URL, and the fetch metadata the browser sends in
// Sec-Fetch-Mode / Sec-Fetch-Dest.
type Request struct {
	Method      string
	URL         *url.URL
	Mode        string // "navigate", "cors", "no-cors", ...
	Destination string // "image", "script", "style", "document", ...
}

// Config holds the classification tables. Zero values get defaults from New;
// the classifier itself is immutable after construction.
type Config struct {
	// SelfOrigin is the application origin, scheme://host[:port].
	// Requests elsewhere are cross-origin.
	SelfOrigin string
	// AllowedOrigins are cross-origin prefixes that stay cacheable
	// (font providers and the configured backend hosts).
	AllowedOrigins []string
	// APIPathPatterns are path fragments that mark a data endpoint.
	APIPathPatterns []string
	// BackendHosts are host fragments of the managed backend; requests to
	// them are data endpoints even though they are cross-origin.
	BackendHosts []string
}

func (c *Config) defaults() {
	if len(c.APIPathPatterns) == 0 {
		c.APIPathPatterns = []string{"/api/", "/rest/", "/functions/"}
	}
}

// Classifier applies the classification rules in order, first match wins.
type Classifier struct {
	cfg Config
}

// New creates a Classifier. The config is copied; later mutation of the
// caller's Config has no effect.
func New(cfg Config) *Classifier {
	cfg.defaults()
	return &Classifier{cfg: cfg}
}

// Classify returns the handling class for req. Rules, in order:
//
//  1. Non-idempotent methods are Ineligible.
//  2. Cross-origin requests are Ineligible unless the origin is
//     allow-listed or belongs to a backend host.
//  3. Data/API paths and backend hosts are DataAPI.
//  4. Image destinations are Image.
//  5. Full-page navigations are Navigation.
//  6. Everything else is StaticAsset.
func (c *Classifier) Classify(req Request) Class {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return Ineligible
	}
	if req.URL == nil {
		return Ineligible
	}

	if c.crossOrigin(req.URL) && !c.originAllowed(req.URL) {
		return Ineligible
	}

	if c.isAPI(req.URL) {
		return DataAPI
	}

	if req.Destination == "image" {
		return Image
	}

	if req.Mode == "navigate" {
		return Navigation
	}

	return StaticAsset
}

func (c *Classifier) crossOrigin(u *url.URL) bool {
	if u.Host == "" {
		return false // relative URL, same origin by construction
	}
	if c.cfg.SelfOrigin == "" {
		return false
	}
	return u.Scheme+"://"+u.Host != c.cfg.SelfOrigin
}

func (c *Classifier) originAllowed(u *url.URL) bool {
	origin := u.Scheme + "://" + u.Host
	for _, allowed := range c.cfg.AllowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	for _, host := range c.cfg.BackendHosts {
		if host != "" && strings.Contains(u.Host, host) {
			return true
		}
	}
	return false
}

func (c *Classifier) isAPI(u *url.URL) bool {
	for _, pat := range c.cfg.APIPathPatterns {
		if strings.Contains(u.Path, pat) {
			return true
		}
	}
	for _, host := range c.cfg.BackendHosts {
		if host != "" && strings.Contains(u.Host, host) {
			return true
		}
	}
	return false
}

// FromHTTP builds a classification Request from an incoming http.Request.
// When the client omits fetch metadata, the Accept header stands in:
// text/html implies a navigation, image/* an image destination.
func FromHTTP(r *http.Request) Request {
	req := Request{
		Method:      r.Method,
		URL:         r.URL,
		Mode:        r.Header.Get("Sec-Fetch-Mode"),
		Destination: r.Header.Get("Sec-Fetch-Dest"),
	}

	accept := r.Header.Get("Accept")
	if req.Mode == "" && strings.Contains(accept, "text/html") {
		req.Mode = "navigate"
	}
	if req.Destination == "" && strings.HasPrefix(accept, "image/") {
		req.Destination = "image"
	}
	return req
}
