package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Devotional is one day's devotional content, cached for offline reading.
type Devotional struct {
	ID            string
	Date          string // YYYY-MM-DD
	Title         string
	ScriptureRef  string
	ScriptureText string
	Reflection    string
	ProofFocus    string
	Application   string
	Prayer        string
	CachedAt      time.Time // stamped by PutDevotional
}

// PutDevotional upserts a devotional, stamping CachedAt with the current
// time. Refreshed on every later successful fetch of the backing content.
func (s *Store) PutDevotional(ctx context.Context, d Devotional) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devotionals
			(id, date, title, scripture_ref, scripture_text, reflection, proof_focus, application, prayer, cached_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			date = excluded.date,
			title = excluded.title,
			scripture_ref = excluded.scripture_ref,
			scripture_text = excluded.scripture_text,
			reflection = excluded.reflection,
			proof_focus = excluded.proof_focus,
			application = excluded.application,
			prayer = excluded.prayer,
			cached_at = excluded.cached_at`,
		d.ID, d.Date, d.Title, d.ScriptureRef, d.ScriptureText,
		d.Reflection, d.ProofFocus, d.Application, d.Prayer,
		s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: put devotional %s: %w", d.ID, err)
	}
	return nil
}

// Devotional returns one devotional by primary key.
func (s *Store) Devotional(ctx context.Context, id string) (*Devotional, error) {
	return s.scanDevotional(s.db.QueryRowContext(ctx,
		devotionalSelect+` WHERE id = ?`, id), KindDevotional, id)
}

// DevotionalByDate returns the devotional for a calendar date via the date
// index.
func (s *Store) DevotionalByDate(ctx context.Context, date string) (*Devotional, error) {
	return s.scanDevotional(s.db.QueryRowContext(ctx,
		devotionalSelect+` WHERE date = ? ORDER BY cached_at DESC LIMIT 1`, date), KindDevotional, date)
}

// RecentDevotionals walks the cached_at index in descending order and stops
// after n records, the most recently cached devotionals first.
func (s *Store) RecentDevotionals(ctx context.Context, n int) ([]Devotional, error) {
	rows, err := s.db.QueryContext(ctx,
		devotionalSelect+` ORDER BY cached_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent devotionals: %w", err)
	}
	defer rows.Close()

	var out []Devotional
	for rows.Next() {
		var d Devotional
		var cached int64
		if err := rows.Scan(&d.ID, &d.Date, &d.Title, &d.ScriptureRef, &d.ScriptureText,
			&d.Reflection, &d.ProofFocus, &d.Application, &d.Prayer, &cached); err != nil {
			return nil, fmt.Errorf("store: scan devotional: %w", err)
		}
		d.CachedAt = time.UnixMilli(cached)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent devotionals: %w", err)
	}
	return out, nil
}

// DeleteDevotional removes one devotional. Returns true if a row was deleted.
func (s *Store) DeleteDevotional(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devotionals WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: delete devotional %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountDevotionals returns the number of stored devotionals.
func (s *Store) CountDevotionals(ctx context.Context) (int, error) {
	return s.count(ctx, "devotionals")
}

const devotionalSelect = `
	SELECT id, date, title, scripture_ref, scripture_text, reflection, proof_focus, application, prayer, cached_at
	FROM devotionals`

func (s *Store) scanDevotional(row *sql.Row, kind Kind, key string) (*Devotional, error) {
	var d Devotional
	var cached int64
	err := row.Scan(&d.ID, &d.Date, &d.Title, &d.ScriptureRef, &d.ScriptureText,
		&d.Reflection, &d.ProofFocus, &d.Application, &d.Prayer, &cached)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrRecordNotFound{Kind: kind, Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get devotional %s: %w", key, err)
	}
	d.CachedAt = time.UnixMilli(cached)
	return &d, nil
}
