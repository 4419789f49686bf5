package ingest

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lymanm67-lab/sacredgreeks-sub006/blobcache"
	"github.com/lymanm67-lab/sacredgreeks-sub006/dbopen"
	"github.com/lymanm67-lab/sacredgreeks-sub006/store"
	"github.com/lymanm67-lab/sacredgreeks-sub006/strategy"
)

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	st := store.New(db, store.WithLogger(slog.New(slog.DiscardHandler)))
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("store init: %v", err)
	}
	return New(st, WithLogger(slog.New(slog.DiscardHandler))), st
}

func TestIngestDevotionalConvertsRichText(t *testing.T) {
	p, st := newTestPipeline(t)

	body := `{
		"id": "dev-2026-08-29",
		"date": "2026-08-29",
		"title": "Walking in <b>Faith</b>",
		"scriptureRef": "Hebrews 11:1",
		"scriptureText": "Now faith is confidence in what we hope for.",
		"reflection": "<p>Faith grows <strong>daily</strong>.</p><script>alert(1)</script>",
		"proofFocus": "<p>Assurance</p>",
		"application": "<p>Write one promise down.</p>",
		"prayer": "<p>Lord, increase our faith.</p>"
	}`
	n, err := p.Ingest(context.Background(), "/api/devotionals/today", []byte(body))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 1 {
		t.Fatalf("stored = %d, want 1", n)
	}

	d, err := st.Devotional(context.Background(), "dev-2026-08-29")
	if err != nil {
		t.Fatalf("Devotional: %v", err)
	}
	if d.Title != "Walking in Faith" {
		t.Fatalf("title not flattened: %q", d.Title)
	}
	if !strings.Contains(d.Reflection, "**daily**") {
		t.Fatalf("reflection not markdown: %q", d.Reflection)
	}
	if strings.Contains(d.Reflection, "script") || strings.Contains(d.Reflection, "alert") {
		t.Fatalf("script survived sanitization: %q", d.Reflection)
	}
}

func TestIngestDevotionalArray(t *testing.T) {
	p, st := newTestPipeline(t)

	body := `[
		{"id":"d1","date":"2026-08-27","title":"One"},
		{"id":"d2","date":"2026-08-28","title":"Two"},
		{"date":"2026-08-29","title":"No id"}
	]`
	n, err := p.Ingest(context.Background(), "/api/devotionals", []byte(body))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 2 {
		t.Fatalf("stored = %d, want 2", n)
	}
	count, err := st.CountDevotionals(context.Background())
	if err != nil || count != 2 {
		t.Fatalf("count = %d (%v), want 2", count, err)
	}
}

func TestIngestPrayerKeepsAnsweredState(t *testing.T) {
	p, st := newTestPipeline(t)

	answered := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	body := `{
		"id": "pr-1",
		"title": "Healing",
		"content": "<p>Praying for recovery.</p>",
		"type": "intercession",
		"answered": true,
		"answeredAt": "2026-08-20T10:00:00Z",
		"createdAt": "2026-08-01T08:00:00Z"
	}`
	if _, err := p.Ingest(context.Background(), "/api/prayers/pr-1", []byte(body)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	pr, err := st.Prayer(context.Background(), "pr-1")
	if err != nil {
		t.Fatalf("Prayer: %v", err)
	}
	if !pr.Answered || pr.AnsweredAt == nil || !pr.AnsweredAt.Equal(answered) {
		t.Fatalf("answered state lost: %+v", pr)
	}
	if pr.Content != "Praying for recovery." {
		t.Fatalf("content = %q", pr.Content)
	}
}

func TestIngestVerses(t *testing.T) {
	p, st := newTestPipeline(t)

	body := `[
		{"reference":"John 3:16","text":"For God so loved the world","translation":"NIV"},
		{"reference":"Psalm 23:1","text":"The Lord is my shepherd","translation":"ESV"}
	]`
	n, err := p.Ingest(context.Background(), "/api/verses/lookup", []byte(body))
	if err != nil || n != 2 {
		t.Fatalf("Ingest = %d, %v; want 2, nil", n, err)
	}

	v, err := st.Verse(context.Background(), "John 3:16")
	if err != nil {
		t.Fatalf("Verse: %v", err)
	}
	if v.Translation != "NIV" {
		t.Fatalf("translation = %q", v.Translation)
	}
}

func TestIngestMaterialsKeepPayloadVerbatim(t *testing.T) {
	p, st := newTestPipeline(t)

	body := `{"id":"sm-1","type":"reading-plan","payload":{"weeks":12,"track":"gospels"}}`
	if _, err := p.Ingest(context.Background(), "/api/study/plans", []byte(body)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	m, err := st.Material(context.Background(), "sm-1")
	if err != nil {
		t.Fatalf("Material: %v", err)
	}
	if !strings.Contains(m.Payload, `"weeks":12`) {
		t.Fatalf("payload = %q", m.Payload)
	}
}

func TestIngestUnknownPathIsNoop(t *testing.T) {
	p, st := newTestPipeline(t)
	n, err := p.Ingest(context.Background(), "/api/settings", []byte(`{"theme":"dark"}`))
	if err != nil || n != 0 {
		t.Fatalf("Ingest = %d, %v; want 0, nil", n, err)
	}
	count, _ := st.CountMaterials(context.Background())
	if count != 0 {
		t.Fatalf("unexpected materials stored: %d", count)
	}
}

func TestIngestMalformedBody(t *testing.T) {
	p, _ := newTestPipeline(t)
	if _, err := p.Ingest(context.Background(), "/api/devotionals", []byte(`{broken`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSinkSkipsNonJSON(t *testing.T) {
	p, st := newTestPipeline(t)
	sink := p.Sink()

	u, _ := url.Parse("/api/devotionals/today")
	req := &strategy.Request{Method: http.MethodGet, URL: u}
	e := &blobcache.Entry{
		Status: 200,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte("<html>not data</html>"),
	}
	sink(context.Background(), req, e)

	count, _ := st.CountDevotionals(context.Background())
	if count != 0 {
		t.Fatalf("non-json body ingested: %d records", count)
	}
}

func TestSinkStoresJSON(t *testing.T) {
	p, st := newTestPipeline(t)
	sink := p.Sink()

	u, _ := url.Parse("/api/verses/John%203:16")
	req := &strategy.Request{Method: http.MethodGet, URL: u}
	e := &blobcache.Entry{
		Status: 200,
		Header: http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
		Body:   []byte(`{"reference":"John 3:16","text":"For God so loved","translation":"NIV"}`),
	}
	sink(context.Background(), req, e)

	count, err := st.CountVerses(context.Background())
	if err != nil || count != 1 {
		t.Fatalf("count = %d (%v), want 1", count, err)
	}
}
