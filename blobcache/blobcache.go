// Package blobcache stores versioned request→response snapshots in SQLite.
//
// Entries are partitioned into tiers (shell, runtime, media) and every tier
// belongs to exactly one generation, an immutable label bumped on each
// deployable change. Exactly one generation is current; Activate deletes
// every tier that does not belong to it, so stale snapshots never survive a
// version upgrade.
//
//	mgr := blobcache.New(db, blobcache.Generation{Name: "v7"})
//	if err := mgr.Init(ctx); err != nil { ... }
//	report, err := mgr.Install(ctx, manifest, fetch)
//	err = mgr.Activate(ctx)
package blobcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Schema for the blob cache tables. Init applies it; kept exported so tests
// and tooling can create the tables directly.
const Schema = `
CREATE TABLE IF NOT EXISTS cache_tiers (
	tier        TEXT PRIMARY KEY,
	generation  TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_entries (
	tier        TEXT NOT NULL REFERENCES cache_tiers(tier) ON DELETE CASCADE,
	request_key TEXT NOT NULL,
	status      INTEGER NOT NULL,
	headers     TEXT NOT NULL DEFAULT '{}',
	body        BLOB,
	stored_at   INTEGER NOT NULL,
	PRIMARY KEY (tier, request_key)
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_key ON cache_entries (request_key);
CREATE TABLE IF NOT EXISTS cache_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// TierKind names a partition of the blob cache within a generation.
type TierKind int

const (
	Shell   TierKind = iota // precached static entry points
	Runtime                 // dynamically cached same-origin responses
	Media                   // image responses
)

// String returns "shell", "runtime" or "media".
func (k TierKind) String() string {
	switch k {
	case Shell:
		return "shell"
	case Runtime:
		return "runtime"
	case Media:
		return "media"
	}
	return fmt.Sprintf("tier(%d)", int(k))
}

// Generation is an immutable label identifying one version of the tier set.
type Generation struct {
	Name string
}

// Tier derives the versioned tier name for a kind, e.g. "shell-v7".
func (g Generation) Tier(k TierKind) string {
	return k.String() + "-" + g.Name
}

// Owns reports whether the named tier belongs to this generation.
func (g Generation) Owns(tier string) bool {
	return strings.HasSuffix(tier, "-"+g.Name)
}

// Entry is one cached request→response pair. Entries are opaque snapshots:
// Put replaces the whole row, never part of it.
type Entry struct {
	RequestKey string
	Status     int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time // stamped by Put, never caller-supplied
}

// Tier describes one row of the tier table.
type Tier struct {
	Name       string
	Generation string
	CreatedAt  time.Time
}

// FetchFunc retrieves one URL from the live network during Install.
type FetchFunc func(ctx context.Context, url string) (*Entry, error)

// Manager owns the blob cache for one deployed generation.
type Manager struct {
	db     *sql.DB
	gen    Generation
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets a custom clock function (for testing stored_at stamps).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) { m.now = fn }
}

// New creates a Manager for the given deployed generation. Call Init once
// before any other operation.
func New(db *sql.DB, gen Generation, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		gen:    gen,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Generation returns the manager's deployed generation.
func (m *Manager) Generation() Generation { return m.gen }

// Init creates the cache tables and indices if absent. Idempotent.
func (m *Manager) Init(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("blobcache: init: %w", err)
	}
	return nil
}

// Get returns the cached entry for key in the generation's tier of the given
// kind. Returns ErrEntryNotFound when absent.
func (m *Manager) Get(ctx context.Context, kind TierKind, key string) (*Entry, error) {
	tier := m.gen.Tier(kind)
	row := m.db.QueryRowContext(ctx, `
		SELECT status, headers, body, stored_at
		FROM cache_entries WHERE tier = ? AND request_key = ?`,
		tier, key,
	)

	var (
		e       Entry
		headers string
		stored  int64
	)
	err := row.Scan(&e.Status, &headers, &e.Body, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrEntryNotFound{Tier: tier, Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("blobcache: get %s/%s: %w", tier, key, err)
	}
	e.RequestKey = key
	e.StoredAt = time.UnixMilli(stored)
	if err := json.Unmarshal([]byte(headers), &e.Header); err != nil {
		return nil, fmt.Errorf("blobcache: decode headers %s/%s: %w", tier, key, err)
	}
	return &e, nil
}

// Put upserts an entry into the generation's tier of the given kind,
// stamping StoredAt with the current time. The tier row is created on first
// write. Concurrent Puts for the same key race and the last write wins;
// entries are idempotent snapshots of externally authoritative data.
func (m *Manager) Put(ctx context.Context, kind TierKind, key string, e Entry) error {
	tier := m.gen.Tier(kind)
	if err := m.ensureTier(ctx, tier); err != nil {
		return err
	}

	headers, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("blobcache: encode headers %s/%s: %w", tier, key, err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO cache_entries (tier, request_key, status, headers, body, stored_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (tier, request_key) DO UPDATE SET
			status = excluded.status,
			headers = excluded.headers,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		tier, key, e.Status, string(headers), e.Body, m.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("blobcache: put %s/%s: %w", tier, key, err)
	}
	return nil
}

// Delete removes an entry. Returns true if a row was deleted.
func (m *Manager) Delete(ctx context.Context, kind TierKind, key string) (bool, error) {
	tier := m.gen.Tier(kind)
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE tier = ? AND request_key = ?`, tier, key,
	)
	if err != nil {
		return false, fmt.Errorf("blobcache: delete %s/%s: %w", tier, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("blobcache: delete %s/%s: %w", tier, key, err)
	}
	return n > 0, nil
}

// ListTiers returns all tier rows, current and stale.
func (m *Manager) ListTiers(ctx context.Context) ([]Tier, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT tier, generation, created_at FROM cache_tiers ORDER BY tier`,
	)
	if err != nil {
		return nil, fmt.Errorf("blobcache: list tiers: %w", err)
	}
	defer rows.Close()

	var tiers []Tier
	for rows.Next() {
		var t Tier
		var created int64
		if err := rows.Scan(&t.Name, &t.Generation, &created); err != nil {
			return nil, fmt.Errorf("blobcache: scan tier: %w", err)
		}
		t.CreatedAt = time.UnixMilli(created)
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("blobcache: list tiers: %w", err)
	}
	return tiers, nil
}

// ListKeys returns every request key in the generation's tier of the given
// kind that starts with prefix, ordered by key. An empty prefix lists the
// whole tier. The replay queue uses this to enumerate its marker keys.
func (m *Manager) ListKeys(ctx context.Context, kind TierKind, prefix string) ([]string, error) {
	tier := m.gen.Tier(kind)
	rows, err := m.db.QueryContext(ctx, `
		SELECT request_key FROM cache_entries
		WHERE tier = ? AND request_key LIKE ? ESCAPE '\'
		ORDER BY request_key`,
		tier, escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("blobcache: list keys %s: %w", tier, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("blobcache: scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("blobcache: list keys %s: %w", tier, err)
	}
	return keys, nil
}

// Count returns the number of entries in the generation's tier of the given kind.
func (m *Manager) Count(ctx context.Context, kind TierKind) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE tier = ?`, m.gen.Tier(kind),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("blobcache: count %s: %w", m.gen.Tier(kind), err)
	}
	return n, nil
}

func (m *Manager) ensureTier(ctx context.Context, tier string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO cache_tiers (tier, generation, created_at) VALUES (?,?,?)
		ON CONFLICT (tier) DO NOTHING`,
		tier, m.gen.Name, m.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("blobcache: ensure tier %s: %w", tier, err)
	}
	return nil
}

func (m *Manager) metaGet(ctx context.Context, key string) (string, error) {
	var v string
	err := m.db.QueryRowContext(ctx,
		`SELECT value FROM cache_meta WHERE key = ?`, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("blobcache: meta %s: %w", key, err)
	}
	return v, nil
}

func (m *Manager) metaSet(ctx context.Context, key, value string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO cache_meta (key, value) VALUES (?,?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("blobcache: set meta %s: %w", key, err)
	}
	return nil
}

// escapeLike escapes LIKE metacharacters so prefixes containing % or _
// match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
