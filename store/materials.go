package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StudyMaterial is a generic typed payload for study content that has no
// dedicated table (assessments, reading plans, reference articles). Payload
// is an opaque JSON document owned by the application layer.
type StudyMaterial struct {
	ID       string
	Type     string
	Payload  string // JSON
	CachedAt time.Time // stamped by PutMaterial
}

// PutMaterial upserts a study material, stamping CachedAt.
func (s *Store) PutMaterial(ctx context.Context, m StudyMaterial) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO study_materials (id, type, payload, cached_at)
		VALUES (?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			payload = excluded.payload,
			cached_at = excluded.cached_at`,
		m.ID, m.Type, m.Payload, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: put material %s: %w", m.ID, err)
	}
	return nil
}

// Material returns one study material by primary key.
func (s *Store) Material(ctx context.Context, id string) (*StudyMaterial, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, payload, cached_at
		FROM study_materials WHERE id = ?`, id)

	var m StudyMaterial
	var cached int64
	err := row.Scan(&m.ID, &m.Type, &m.Payload, &cached)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrRecordNotFound{Kind: KindMaterial, Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get material %s: %w", id, err)
	}
	m.CachedAt = time.UnixMilli(cached)
	return &m, nil
}

// MaterialsByType returns materials of one type via the type index, most
// recently cached first.
func (s *Store) MaterialsByType(ctx context.Context, typ string) ([]StudyMaterial, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, payload, cached_at
		FROM study_materials WHERE type = ? ORDER BY cached_at DESC`, typ)
	if err != nil {
		return nil, fmt.Errorf("store: materials by type %s: %w", typ, err)
	}
	defer rows.Close()

	var out []StudyMaterial
	for rows.Next() {
		var m StudyMaterial
		var cached int64
		if err := rows.Scan(&m.ID, &m.Type, &m.Payload, &cached); err != nil {
			return nil, fmt.Errorf("store: scan material: %w", err)
		}
		m.CachedAt = time.UnixMilli(cached)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: materials: %w", err)
	}
	return out, nil
}

// DeleteMaterial removes one material. Returns true if a row was deleted.
func (s *Store) DeleteMaterial(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM study_materials WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: delete material %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountMaterials returns the number of stored materials.
func (s *Store) CountMaterials(ctx context.Context) (int, error) {
	return s.count(ctx, "study_materials")
}
