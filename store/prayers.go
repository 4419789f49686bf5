package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Prayer is a personal prayer entry, cached for offline access. Answered
// prayers are exempt from retention cleanup; the user
// keeps their answered history.
type Prayer struct {
	ID         string
	Title      string
	Content    string
	Type       string // "personal", "intercession", ...
	Answered   bool
	AnsweredAt *time.Time
	CreatedAt  time.Time
	CachedAt   time.Time // stamped by PutPrayer
}

// PutPrayer upserts a prayer, stamping CachedAt with the current time.
func (s *Store) PutPrayer(ctx context.Context, p Prayer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prayers (id, title, content, type, answered, answered_at, created_at, cached_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			type = excluded.type,
			answered = excluded.answered,
			answered_at = excluded.answered_at,
			created_at = excluded.created_at,
			cached_at = excluded.cached_at`,
		p.ID, p.Title, p.Content, p.Type, p.Answered,
		nullableTime(p.AnsweredAt), p.CreatedAt.UnixMilli(), s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: put prayer %s: %w", p.ID, err)
	}
	return nil
}

// Prayer returns one prayer by primary key.
func (s *Store) Prayer(ctx context.Context, id string) (*Prayer, error) {
	row := s.db.QueryRowContext(ctx, prayerSelect+` WHERE id = ?`, id)
	p, err := scanPrayer(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrRecordNotFound{Kind: KindPrayer, Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get prayer %s: %w", id, err)
	}
	return p, nil
}

// PrayersByType returns prayers of one type via the type index, most
// recently cached first.
func (s *Store) PrayersByType(ctx context.Context, typ string) ([]Prayer, error) {
	rows, err := s.db.QueryContext(ctx,
		prayerSelect+` WHERE type = ? ORDER BY cached_at DESC`, typ)
	if err != nil {
		return nil, fmt.Errorf("store: prayers by type %s: %w", typ, err)
	}
	return collectPrayers(rows)
}

// RecentPrayers walks the cached_at index descending and stops after n.
func (s *Store) RecentPrayers(ctx context.Context, n int) ([]Prayer, error) {
	rows, err := s.db.QueryContext(ctx,
		prayerSelect+` ORDER BY cached_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent prayers: %w", err)
	}
	return collectPrayers(rows)
}

// DeletePrayer removes one prayer. Returns true if a row was deleted.
func (s *Store) DeletePrayer(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prayers WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: delete prayer %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountPrayers returns the number of stored prayers.
func (s *Store) CountPrayers(ctx context.Context) (int, error) {
	return s.count(ctx, "prayers")
}

const prayerSelect = `
	SELECT id, title, content, type, answered, answered_at, created_at, cached_at
	FROM prayers`

func scanPrayer(scan func(...any) error) (*Prayer, error) {
	var (
		p        Prayer
		answered sql.NullInt64
		created  int64
		cached   int64
	)
	if err := scan(&p.ID, &p.Title, &p.Content, &p.Type, &p.Answered,
		&answered, &created, &cached); err != nil {
		return nil, err
	}
	p.AnsweredAt = scanNullableTime(answered)
	p.CreatedAt = time.UnixMilli(created)
	p.CachedAt = time.UnixMilli(cached)
	return &p, nil
}

func collectPrayers(rows *sql.Rows) ([]Prayer, error) {
	defer rows.Close()
	var out []Prayer
	for rows.Next() {
		p, err := scanPrayer(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: scan prayer: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: prayers: %w", err)
	}
	return out, nil
}
