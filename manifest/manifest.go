// Package manifest builds the list of URLs precached into an application
// shell generation. A manifest starts from a literal URL list and can be
// extended by scanning entry-point HTML for same-origin assets.
package manifest

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// Manifest is an ordered, de-duplicated set of shell URLs.
type Manifest struct {
	urls []string
	seen map[string]struct{}
	base *url.URL
}

// New creates a manifest rooted at base (the app origin). Seed URLs are
// added in order; duplicates and cross-origin entries are skipped.
func New(base string, seed ...string) (*Manifest, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("manifest: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("manifest: base url %q must be absolute", base)
	}

	m := &Manifest{
		seen: make(map[string]struct{}),
		base: u,
	}
	for _, s := range seed {
		m.Add(s)
	}
	return m, nil
}

// Add inserts one URL, normalized to a root-relative path. Cross-origin
// and unparsable URLs are rejected. Reports whether the URL was new.
func (m *Manifest) Add(raw string) bool {
	path, ok := m.normalize(raw)
	if !ok {
		return false
	}
	if _, dup := m.seen[path]; dup {
		return false
	}
	m.seen[path] = struct{}{}
	m.urls = append(m.urls, path)
	return true
}

// URLs returns the manifest contents in insertion order.
func (m *Manifest) URLs() []string {
	out := make([]string, len(m.urls))
	copy(out, m.urls)
	return out
}

// Len reports the number of URLs in the manifest.
func (m *Manifest) Len() int { return len(m.urls) }

// DiscoverAssets parses entry-point HTML and adds every same-origin
// stylesheet, script and image reference it finds. Returns the newly
// discovered URLs, sorted.
func (m *Manifest) DiscoverAssets(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("manifest: parse html: %w", err)
	}

	var added []string
	for n := range doc.Descendants() {
		if n.Type != html.ElementNode {
			continue
		}
		ref := assetRef(n)
		if ref == "" {
			continue
		}
		if m.Add(ref) {
			path, _ := m.normalize(ref)
			added = append(added, path)
		}
	}
	sort.Strings(added)
	return added, nil
}

// assetRef extracts the cacheable URL from one element, if any.
func assetRef(n *html.Node) string {
	switch n.Data {
	case "link":
		rel := strings.ToLower(attr(n, "rel"))
		if rel == "stylesheet" || rel == "icon" || rel == "manifest" || rel == "apple-touch-icon" {
			return attr(n, "href")
		}
	case "script":
		return attr(n, "src")
	case "img":
		return attr(n, "src")
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// normalize resolves raw against the base origin and returns its
// root-relative form. Cross-origin, non-http and empty references
// report ok=false.
func (m *Manifest) normalize(raw string) (path string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	resolved := m.base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	if resolved.Host != m.base.Host {
		return "", false
	}
	p := resolved.EscapedPath()
	if p == "" {
		p = "/"
	}
	if resolved.RawQuery != "" {
		p += "?" + resolved.RawQuery
	}
	return p, true
}
