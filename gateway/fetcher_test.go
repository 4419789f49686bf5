package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/lymanm67-lab/sacredgreeks-sub006/strategy"
)

func TestUpstreamResolvesRelativeURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/devotionals/today" {
			t.Errorf("upstream path = %q", r.URL.Path)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept header not forwarded: %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"d1"}`))
	}))
	defer srv.Close()

	up, err := NewUpstream(srv.URL)
	if err != nil {
		t.Fatalf("NewUpstream: %v", err)
	}

	u, _ := url.Parse("/api/devotionals/today")
	entry, err := up.Fetch(context.Background(), &strategy.Request{
		Method: http.MethodGet,
		URL:    u,
		Header: http.Header{"Accept": []string{"application/json"}},
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if entry.Status != http.StatusOK {
		t.Fatalf("status = %d", entry.Status)
	}
	if string(entry.Body) != `{"id":"d1"}` {
		t.Fatalf("body = %q", entry.Body)
	}
	if entry.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", entry.Header.Get("Content-Type"))
	}
}

func TestUpstreamForwardsRequestBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"title":"Healing"}` {
			t.Errorf("upstream body = %q", body)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	up, err := NewUpstream(srv.URL)
	if err != nil {
		t.Fatalf("NewUpstream: %v", err)
	}

	u, _ := url.Parse("/api/prayers")
	entry, err := up.Fetch(context.Background(), &strategy.Request{
		Method: http.MethodPost,
		URL:    u,
		Body:   []byte(`{"title":"Healing"}`),
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if entry.Status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", entry.Status)
	}
}

func TestUpstreamRejectsOversizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	up, err := NewUpstream(srv.URL, WithMaxBody(1024))
	if err != nil {
		t.Fatalf("NewUpstream: %v", err)
	}

	u, _ := url.Parse("/big")
	if _, err := up.Fetch(context.Background(), &strategy.Request{Method: http.MethodGet, URL: u}); err == nil {
		t.Fatal("expected size cap error")
	}
}

func TestNewUpstreamRejectsRelativeOrigin(t *testing.T) {
	if _, err := NewUpstream("/not-absolute"); err == nil {
		t.Fatal("expected error")
	}
}
