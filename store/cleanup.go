package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lymanm67-lab/sacredgreeks-sub006/dbopen"
)

// DefaultRetention is the cleanup cutoff applied when the caller passes zero.
const DefaultRetention = 30 * 24 * time.Hour

// CleanupReport counts the records each kind lost to retention cleanup.
type CleanupReport map[Kind]int

// Total returns the number of records deleted across all kinds.
func (r CleanupReport) Total() int {
	n := 0
	for _, v := range r {
		n += v
	}
	return n
}

// Cleanup deletes records whose cached_at is strictly older than now-cutoff,
// walking the cached_at index per kind. Answered prayers are exempt: the
// user keeps their answered history regardless of age.
//
// Each kind's delete runs in its own transaction, so a failure mid-scan
// never leaves one kind half-deleted. Safe to run concurrently with reads
// (a read-then-miss race is acceptable) and idempotent: a second run with
// no new writes deletes nothing.
func (s *Store) Cleanup(ctx context.Context, cutoff time.Duration) (CleanupReport, error) {
	if cutoff <= 0 {
		cutoff = DefaultRetention
	}
	threshold := s.now().Add(-cutoff).UnixMilli()

	targets := []struct {
		kind  Kind
		query string
	}{
		{KindDevotional, `DELETE FROM devotionals WHERE cached_at < ?`},
		{KindPrayer, `DELETE FROM prayers WHERE cached_at < ? AND answered = 0`},
		{KindVerse, `DELETE FROM bible_verses WHERE cached_at < ?`},
		{KindMaterial, `DELETE FROM study_materials WHERE cached_at < ?`},
	}

	report := make(CleanupReport, len(targets))
	for _, target := range targets {
		var deleted int64
		err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, target.query, threshold)
			if err != nil {
				return err
			}
			deleted, err = res.RowsAffected()
			return err
		})
		if err != nil {
			return report, fmt.Errorf("store: cleanup %s: %w", target.kind, err)
		}
		report[target.kind] = int(deleted)
	}

	if report.Total() > 0 {
		s.logger.Info("store: retention cleanup",
			"cutoff", cutoff,
			"devotionals", report[KindDevotional],
			"prayers", report[KindPrayer],
			"verses", report[KindVerse],
			"materials", report[KindMaterial])
	}
	return report, nil
}
