package blobcache

import (
	"context"
	"fmt"
)

const (
	metaCurrent = "current_generation"
	metaPending = "pending_generation"
)

// InstallReport summarises one Install walk over the precache manifest.
type InstallReport struct {
	Requested int
	Cached    int
	Failed    []string // manifest URLs that could not be fetched
}

// Install opens the shell tier for the manager's generation and populates it
// with every manifest entry independently: one entry's fetch failure is
// logged and skipped, never aborting the others. Install succeeds when the
// walk completes even if nothing could be cached. A degraded shell still
// installs.
//
// On success the generation is marked pending, ready to supersede the
// current one at the next Activate without waiting for open clients.
func (m *Manager) Install(ctx context.Context, manifest []string, fetch FetchFunc) (InstallReport, error) {
	report := InstallReport{Requested: len(manifest)}

	if err := m.ensureTier(ctx, m.gen.Tier(Shell)); err != nil {
		return report, err
	}

	for _, url := range manifest {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("blobcache: install interrupted: %w", err)
		}
		e, err := fetch(ctx, url)
		if err != nil {
			m.logger.Warn("blobcache: precache fetch failed, skipping",
				"generation", m.gen.Name, "url", url, "error", err)
			report.Failed = append(report.Failed, url)
			continue
		}
		if err := m.Put(ctx, Shell, url, *e); err != nil {
			m.logger.Warn("blobcache: precache store failed, skipping",
				"generation", m.gen.Name, "url", url, "error", err)
			report.Failed = append(report.Failed, url)
			continue
		}
		report.Cached++
	}

	if err := m.metaSet(ctx, metaPending, m.gen.Name); err != nil {
		return report, err
	}

	m.logger.Info("blobcache: install complete",
		"generation", m.gen.Name,
		"requested", report.Requested,
		"cached", report.Cached,
		"failed", len(report.Failed))
	return report, nil
}

// Activate makes the manager's generation current: every tier not belonging
// to it is deleted together with its entries, and the pending marker is
// cleared. The caller broadcasts the change so already-open pages are
// governed immediately, no reload required.
func (m *Manager) Activate(ctx context.Context) error {
	tiers, err := m.ListTiers(ctx)
	if err != nil {
		return err
	}

	// Entries are removed explicitly rather than through the schema's
	// ON DELETE CASCADE: the foreign_keys pragma is per-connection, and a
	// pooled connection opened after setup would leave orphans behind.
	for _, t := range tiers {
		if t.Generation == m.gen.Name {
			continue
		}
		if _, err := m.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE tier = ?`, t.Name,
		); err != nil {
			return fmt.Errorf("blobcache: evict entries of tier %s: %w", t.Name, err)
		}
		if _, err := m.db.ExecContext(ctx,
			`DELETE FROM cache_tiers WHERE tier = ?`, t.Name,
		); err != nil {
			return fmt.Errorf("blobcache: evict tier %s: %w", t.Name, err)
		}
		m.logger.Info("blobcache: evicted stale tier",
			"tier", t.Name, "generation", t.Generation)
	}

	if err := m.metaSet(ctx, metaCurrent, m.gen.Name); err != nil {
		return err
	}
	if err := m.metaSet(ctx, metaPending, ""); err != nil {
		return err
	}

	m.logger.Info("blobcache: generation activated", "generation", m.gen.Name)
	return nil
}

// CurrentGeneration returns the activated generation name, or "" before the
// first Activate.
func (m *Manager) CurrentGeneration(ctx context.Context) (string, error) {
	return m.metaGet(ctx, metaCurrent)
}

// PendingGeneration returns the installed-but-not-activated generation name,
// or "" when nothing is waiting.
func (m *Manager) PendingGeneration(ctx context.Context) (string, error) {
	return m.metaGet(ctx, metaPending)
}
