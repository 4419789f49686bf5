package store

import (
	"context"
	"testing"
	"time"
)

// seedAt writes a devotional with cached_at at a chosen instant by steering
// the injected clock.
func seedDevotionalAt(t *testing.T, s *Store, clock *time.Time, id string, at time.Time) {
	t.Helper()
	*clock = at
	if err := s.PutDevotional(context.Background(), Devotional{ID: id, Date: "2024-01-01", Title: id}); err != nil {
		t.Fatal(err)
	}
}

func TestCleanup_ConcreteRetentionScenario(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	s := newTestStore(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	// Three devotionals cached 0, 20 and 40 days ago.
	seedDevotionalAt(t, s, &clock, "day0", now)
	seedDevotionalAt(t, s, &clock, "day20", now.Add(-20*24*time.Hour))
	seedDevotionalAt(t, s, &clock, "day40", now.Add(-40*24*time.Hour))
	clock = now

	report, err := s.Cleanup(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if report[KindDevotional] != 1 {
		t.Fatalf("deleted %d devotionals, want exactly 1", report[KindDevotional])
	}

	if _, err := s.Devotional(ctx, "day40"); err == nil {
		t.Fatal("day40 survived cleanup")
	}
	for _, id := range []string{"day0", "day20"} {
		if _, err := s.Devotional(ctx, id); err != nil {
			t.Fatalf("%s removed by cleanup: %v", id, err)
		}
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	s := newTestStore(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	seedDevotionalAt(t, s, &clock, "old", now.Add(-45*24*time.Hour))
	seedDevotionalAt(t, s, &clock, "fresh", now)
	clock = now

	if _, err := s.Cleanup(ctx, 30*24*time.Hour); err != nil {
		t.Fatal(err)
	}
	countAfterFirst, err := s.CountDevotionals(ctx)
	if err != nil {
		t.Fatal(err)
	}

	report, err := s.Cleanup(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total() != 0 {
		t.Fatalf("second cleanup deleted %d records, want 0", report.Total())
	}
	countAfterSecond, err := s.CountDevotionals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if countAfterFirst != countAfterSecond {
		t.Fatalf("counts differ: %d vs %d", countAfterFirst, countAfterSecond)
	}
}

func TestCleanup_AnsweredPrayersExempt(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := now.Add(-60 * 24 * time.Hour)
	s := newTestStore(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	answeredAt := now.Add(-50 * 24 * time.Hour)
	if err := s.PutPrayer(ctx, Prayer{
		ID: "answered", Title: "a", Type: "personal",
		Answered: true, AnsweredAt: &answeredAt, CreatedAt: clock,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutPrayer(ctx, Prayer{
		ID: "unanswered", Title: "b", Type: "personal", CreatedAt: clock,
	}); err != nil {
		t.Fatal(err)
	}

	clock = now
	report, err := s.Cleanup(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if report[KindPrayer] != 1 {
		t.Fatalf("deleted %d prayers, want 1", report[KindPrayer])
	}

	if _, err := s.Prayer(ctx, "answered"); err != nil {
		t.Fatalf("answered prayer removed: %v", err)
	}
	if _, err := s.Prayer(ctx, "unanswered"); err == nil {
		t.Fatal("stale unanswered prayer survived")
	}
}

func TestCleanup_DefaultCutoff(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	s := newTestStore(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	seedDevotionalAt(t, s, &clock, "d29", now.Add(-29*24*time.Hour))
	seedDevotionalAt(t, s, &clock, "d31", now.Add(-31*24*time.Hour))
	clock = now

	// Zero cutoff means the 30-day default.
	report, err := s.Cleanup(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report[KindDevotional] != 1 {
		t.Fatalf("deleted %d, want 1 (only the 31-day-old record)", report[KindDevotional])
	}
}
