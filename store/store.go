// Package store persists typed domain records (devotionals, prayers, bible
// verses, study materials) in SQLite with secondary indices for date, type
// and cached_at range scans, plus a retention cleanup policy.
//
// Records are distinct from raw cached responses: they are decoded, indexed
// domain entities the application reads directly while offline. Every record
// carries a cached_at timestamp stamped at write time, never caller-supplied.
//
//	s := store.New(db)
//	if err := s.Init(ctx); err != nil { ... }
//	err = s.PutDevotional(ctx, store.Devotional{ID: "d1", Date: "2024-01-01", ...})
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lymanm67-lab/sacredgreeks-sub006/dbopen"
)

// SchemaVersion is the structural version stamped into PRAGMA user_version.
// Bump it when indices change; Init then re-creates them without touching
// the data rows.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS devotionals (
	id             TEXT PRIMARY KEY,
	date           TEXT NOT NULL,
	title          TEXT NOT NULL,
	scripture_ref  TEXT NOT NULL DEFAULT '',
	scripture_text TEXT NOT NULL DEFAULT '',
	reflection     TEXT NOT NULL DEFAULT '',
	proof_focus    TEXT NOT NULL DEFAULT '',
	application    TEXT NOT NULL DEFAULT '',
	prayer         TEXT NOT NULL DEFAULT '',
	cached_at      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS prayers (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	content     TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL DEFAULT '',
	answered    INTEGER NOT NULL DEFAULT 0,
	answered_at INTEGER,
	created_at  INTEGER NOT NULL,
	cached_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS bible_verses (
	reference   TEXT PRIMARY KEY,
	text        TEXT NOT NULL,
	translation TEXT NOT NULL DEFAULT '',
	cached_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS study_materials (
	id        TEXT PRIMARY KEY,
	type      TEXT NOT NULL DEFAULT '',
	payload   TEXT NOT NULL DEFAULT '',
	cached_at INTEGER NOT NULL
);
`

// indexDDL is applied on first init and re-applied on a version bump.
var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS idx_devotionals_date ON devotionals (date)`,
	`CREATE INDEX IF NOT EXISTS idx_devotionals_cached ON devotionals (cached_at)`,
	`CREATE INDEX IF NOT EXISTS idx_prayers_type ON prayers (type)`,
	`CREATE INDEX IF NOT EXISTS idx_prayers_cached ON prayers (cached_at)`,
	`CREATE INDEX IF NOT EXISTS idx_verses_cached ON bible_verses (cached_at)`,
	`CREATE INDEX IF NOT EXISTS idx_materials_type ON study_materials (type)`,
	`CREATE INDEX IF NOT EXISTS idx_materials_cached ON study_materials (cached_at)`,
}

// Store is the structured record store. It holds its own connection and
// lifecycle state and is dependency-injected wherever records are read or
// written; there is no package-level singleton.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets a custom clock function (for testing cached_at stamps and
// retention cutoffs).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// New creates a Store over the given database. Call Init before use.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates missing tables and indices. Idempotent. When the stored
// schema version is behind SchemaVersion the indices are re-created. A
// version bump never drops data rows.
func (s *Store) Init(ctx context.Context) error {
	version, err := dbopen.UserVersion(s.db)
	if err != nil {
		return fmt.Errorf("store: init: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: create tables: %w", err)
	}

	if version < SchemaVersion {
		for _, ddl := range indexDDL {
			if _, err := s.db.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("store: create index: %w", err)
			}
		}
		if err := dbopen.SetUserVersion(s.db, SchemaVersion); err != nil {
			return fmt.Errorf("store: init: %w", err)
		}
		if version > 0 {
			s.logger.Info("store: schema upgraded",
				"from", version, "to", SchemaVersion)
		}
	}
	return nil
}

// count is shared by the per-kind Count methods. table comes from a fixed
// internal list, never caller input.
func (s *Store) count(ctx context.Context, table string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count %s: %w", table, err)
	}
	return n, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func scanNullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
