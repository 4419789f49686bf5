package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lymanm67-lab/sacredgreeks-sub006/dbopen"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(setupTestDB(t), opts...)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func TestInit_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second init: %v", err)
	}
}

func TestInit_StampsSchemaVersion(t *testing.T) {
	db := setupTestDB(t)
	s := New(db)
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	v, err := dbopen.UserVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if v != SchemaVersion {
		t.Fatalf("user_version = %d, want %d", v, SchemaVersion)
	}
}

func TestInit_VersionBumpKeepsData(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s := New(db)
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.PutDevotional(ctx, Devotional{ID: "d1", Date: "2024-01-01", Title: "T"}); err != nil {
		t.Fatal(err)
	}

	// Simulate an older on-disk structural version: Init must re-create
	// indices but never touch the rows.
	if err := dbopen.SetUserVersion(db, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountDevotionals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("count = %d after version bump, want 1", n)
	}
}

func TestDevotional_RoundTripByDateIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := Devotional{
		ID:            "d1",
		Date:          "2024-01-01",
		Title:         "Standing Firm",
		ScriptureRef:  "Eph 6:13",
		ScriptureText: "Therefore take up the whole armor of God...",
		Reflection:    "reflection text",
		ProofFocus:    "proof focus",
		Application:   "application text",
		Prayer:        "prayer text",
	}
	if err := s.PutDevotional(ctx, in); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.DevotionalByDate(ctx, "2024-01-01")
	if err != nil {
		t.Fatalf("get by date: %v", err)
	}
	if got.CachedAt.IsZero() {
		t.Fatal("CachedAt not stamped")
	}

	// Deep-equal to the input once the write stamp is accounted for.
	in.CachedAt = got.CachedAt
	if *got != in {
		t.Fatalf("got %+v, want %+v", *got, in)
	}
}

func TestDevotional_UpsertRefreshes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutDevotional(ctx, Devotional{ID: "d1", Date: "2024-01-01", Title: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutDevotional(ctx, Devotional{ID: "d1", Date: "2024-01-01", Title: "new"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Devotional(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "new" {
		t.Fatalf("title = %q, want new", got.Title)
	}
	n, _ := s.CountDevotionals(ctx)
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestDevotional_CachedAtNeverCallerSupplied(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	in := Devotional{ID: "d1", Date: "2024-01-01", Title: "T",
		CachedAt: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := s.PutDevotional(ctx, in); err != nil {
		t.Fatal(err)
	}
	got, err := s.Devotional(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.CachedAt.Equal(fixed) {
		t.Fatalf("CachedAt = %v, want write-time stamp %v", got.CachedAt, fixed)
	}
}

func TestRecentDevotionals_DescendingLimit(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	s := newTestStore(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	for i, id := range []string{"d1", "d2", "d3"} {
		current = base.Add(time.Duration(i) * time.Hour)
		if err := s.PutDevotional(ctx, Devotional{ID: id, Date: "2024-01-01", Title: id}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RecentDevotionals(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "d3" || got[1].ID != "d2" {
		t.Fatalf("order = %s, %s; want d3, d2", got[0].ID, got[1].ID)
	}
}

func TestDevotional_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Devotional(context.Background(), "missing")
	var nf *ErrRecordNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrRecordNotFound, got %T: %v", err, err)
	}
	if nf.Kind != KindDevotional {
		t.Fatalf("kind = %q", nf.Kind)
	}
}

func TestPrayer_RoundTripWithNullableAnsweredAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

	if err := s.PutPrayer(ctx, Prayer{
		ID: "p1", Title: "Guidance", Content: "...", Type: "personal", CreatedAt: created,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Prayer(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Answered || got.AnsweredAt != nil {
		t.Fatalf("fresh prayer answered = %v / %v", got.Answered, got.AnsweredAt)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created = %v, want %v", got.CreatedAt, created)
	}

	answeredAt := time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)
	if err := s.PutPrayer(ctx, Prayer{
		ID: "p1", Title: "Guidance", Content: "...", Type: "personal",
		Answered: true, AnsweredAt: &answeredAt, CreatedAt: created,
	}); err != nil {
		t.Fatal(err)
	}

	got, err = s.Prayer(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Answered || got.AnsweredAt == nil || !got.AnsweredAt.Equal(answeredAt) {
		t.Fatalf("answered round-trip: %v / %v", got.Answered, got.AnsweredAt)
	}
}

func TestPrayersByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, p := range []Prayer{
		{ID: "p1", Title: "a", Type: "personal", CreatedAt: now},
		{ID: "p2", Title: "b", Type: "intercession", CreatedAt: now},
		{ID: "p3", Title: "c", Type: "personal", CreatedAt: now},
	} {
		if err := s.PutPrayer(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.PrayersByType(ctx, "personal")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, p := range got {
		if p.Type != "personal" {
			t.Fatalf("type = %q", p.Type)
		}
	}
}

func TestVerse_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutVerse(ctx, BibleVerse{
		Reference: "John 3:16", Text: "For God so loved the world...", Translation: "ESV",
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Verse(ctx, "John 3:16")
	if err != nil {
		t.Fatal(err)
	}
	if got.Translation != "ESV" || got.CachedAt.IsZero() {
		t.Fatalf("got %+v", got)
	}
}

func TestMaterial_ByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, m := range []StudyMaterial{
		{ID: "m1", Type: "assessment", Payload: `{"q":1}`},
		{ID: "m2", Type: "reading_plan", Payload: `{"days":30}`},
	} {
		if err := s.PutMaterial(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.MaterialsByType(ctx, "assessment")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("got %+v", got)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutVerse(ctx, BibleVerse{Reference: "Ps 23:1", Text: "..."}); err != nil {
		t.Fatal(err)
	}
	ok, err := s.DeleteVerse(ctx, "Ps 23:1")
	if err != nil || !ok {
		t.Fatalf("delete existing: %v %v", ok, err)
	}
	ok, err = s.DeleteVerse(ctx, "Ps 23:1")
	if err != nil || ok {
		t.Fatalf("delete missing: %v %v", ok, err)
	}
}
