package manifest

import (
	"reflect"
	"strings"
	"testing"
)

func TestNewSeedsAndDeduplicates(t *testing.T) {
	m, err := New("https://app.sacredgreeks.com",
		"/", "/offline.html", "/app.js", "/", "https://cdn.example.com/lib.js")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := []string{"/", "/offline.html", "/app.js"}
	if got := m.URLs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("URLs() = %v, want %v", got, want)
	}
}

func TestNewRejectsRelativeBase(t *testing.T) {
	if _, err := New("/not-absolute"); err == nil {
		t.Fatal("expected error for relative base url")
	}
}

func TestAdd(t *testing.T) {
	m, err := New("https://app.sacredgreeks.com")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []struct {
		raw  string
		want bool
	}{
		{"/styles.css", true},
		{"/styles.css", false},
		{"https://app.sacredgreeks.com/icons/192.png", true},
		{"https://other.example.com/styles.css", false},
		{"data:image/png;base64,xyz", false},
		{"", false},
		{"/search?q=psalms", true},
	}
	for _, tc := range cases {
		if got := m.Add(tc.raw); got != tc.want {
			t.Errorf("Add(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
	if m.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", m.Len())
	}
}

const entryHTML = `<!DOCTYPE html>
<html>
<head>
	<link rel="stylesheet" href="/assets/app.css">
	<link rel="icon" href="/favicon.ico">
	<link rel="preconnect" href="https://fonts.example.com">
	<script src="/assets/app.js"></script>
	<script src="https://analytics.example.com/t.js"></script>
</head>
<body>
	<img src="/img/logo.png" alt="">
	<img src="data:image/gif;base64,R0lGOD" alt="">
	<img src="relative/banner.jpg" alt="">
</body>
</html>`

func TestDiscoverAssets(t *testing.T) {
	m, err := New("https://app.sacredgreeks.com", "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	added, err := m.DiscoverAssets(strings.NewReader(entryHTML))
	if err != nil {
		t.Fatalf("DiscoverAssets: %v", err)
	}

	want := []string{
		"/assets/app.css",
		"/assets/app.js",
		"/favicon.ico",
		"/img/logo.png",
		"/relative/banner.jpg",
	}
	if !reflect.DeepEqual(added, want) {
		t.Fatalf("added = %v, want %v", added, want)
	}

	// A second scan of the same document discovers nothing new.
	again, err := m.DiscoverAssets(strings.NewReader(entryHTML))
	if err != nil {
		t.Fatalf("DiscoverAssets second pass: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second pass added %v, want none", again)
	}
}

func TestDiscoverAssetsSkipsPreconnectAndThirdParty(t *testing.T) {
	m, err := New("https://app.sacredgreeks.com")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.DiscoverAssets(strings.NewReader(entryHTML)); err != nil {
		t.Fatalf("DiscoverAssets: %v", err)
	}
	for _, u := range m.URLs() {
		if strings.Contains(u, "fonts.example.com") || strings.Contains(u, "analytics") {
			t.Fatalf("third-party url leaked into manifest: %q", u)
		}
	}
}
