package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BibleVerse is one scripture verse keyed by its reference.
type BibleVerse struct {
	Reference   string // e.g. "John 3:16"
	Text        string
	Translation string
	CachedAt    time.Time // stamped by PutVerse
}

// PutVerse upserts a verse, stamping CachedAt with the current time.
func (s *Store) PutVerse(ctx context.Context, v BibleVerse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bible_verses (reference, text, translation, cached_at)
		VALUES (?,?,?,?)
		ON CONFLICT (reference) DO UPDATE SET
			text = excluded.text,
			translation = excluded.translation,
			cached_at = excluded.cached_at`,
		v.Reference, v.Text, v.Translation, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: put verse %s: %w", v.Reference, err)
	}
	return nil
}

// Verse returns one verse by reference.
func (s *Store) Verse(ctx context.Context, reference string) (*BibleVerse, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT reference, text, translation, cached_at
		FROM bible_verses WHERE reference = ?`, reference)

	var v BibleVerse
	var cached int64
	err := row.Scan(&v.Reference, &v.Text, &v.Translation, &cached)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrRecordNotFound{Kind: KindVerse, Key: reference}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get verse %s: %w", reference, err)
	}
	v.CachedAt = time.UnixMilli(cached)
	return &v, nil
}

// DeleteVerse removes one verse. Returns true if a row was deleted.
func (s *Store) DeleteVerse(ctx context.Context, reference string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bible_verses WHERE reference = ?`, reference)
	if err != nil {
		return false, fmt.Errorf("store: delete verse %s: %w", reference, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountVerses returns the number of stored verses.
func (s *Store) CountVerses(ctx context.Context) (int, error) {
	return s.count(ctx, "bible_verses")
}
