// Package eventlog keeps a best-effort debug trail of caching decisions in
// SQLite. Writes are asynchronous and lossy: a full buffer drops entries
// rather than slowing down request handling, and persistence failures are
// logged, never propagated.
package eventlog

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/lymanm67-lab/sacredgreeks-sub006/strategy"
)

// Schema for the cache_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS cache_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	class TEXT NOT NULL,
	request_key TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_events_ts ON cache_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_cache_events_key ON cache_events(request_key);
`

// Entry is one recorded caching decision.
type Entry struct {
	ID        int64  `json:"id"`
	Class     string `json:"class"`
	Key       string `json:"key"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// Log persists caching decisions asynchronously.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	ch     chan *Entry
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Log) { lg.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(lg *Log) { lg.now = now }
}

// WithBuffer sets the async queue depth. Default: 1024.
func WithBuffer(n int) Option {
	return func(lg *Log) {
		if n > 0 {
			lg.ch = make(chan *Entry, n)
		}
	}
}

// New creates a Log and starts its flush goroutine.
func New(db *sql.DB, opts ...Option) *Log {
	lg := &Log{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
		ch:     make(chan *Entry, 1024),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(lg)
	}
	go lg.flushLoop()
	return lg
}

// Init creates the cache_events table if it does not exist.
func (lg *Log) Init() error {
	_, err := lg.db.Exec(Schema)
	return err
}

// Record queues one caching decision for persistence. Non-blocking; the
// entry is dropped when the buffer is full or the log is closed. Detached
// background tasks may still call this during shutdown, so it must never
// panic.
func (lg *Log) Record(d strategy.Decision) {
	e := &Entry{
		Class:     d.Class.String(),
		Key:       d.Key,
		Outcome:   d.Outcome,
		Timestamp: lg.now().UnixMilli(),
	}
	if d.Err != nil {
		e.Error = d.Err.Error()
	}

	lg.mu.RLock()
	defer lg.mu.RUnlock()
	if lg.closed {
		return
	}
	select {
	case lg.ch <- e:
	default:
	}
}

// Observer adapts Record to the dispatcher's observer hook.
func (lg *Log) Observer() func(strategy.Decision) {
	return lg.Record
}

// Close drains the buffer and stops the flush goroutine. Record calls
// arriving afterwards are discarded.
func (lg *Log) Close() error {
	lg.once.Do(func() {
		lg.mu.Lock()
		lg.closed = true
		lg.mu.Unlock()
		close(lg.ch)
		<-lg.done
	})
	return nil
}

// Recent returns the newest n entries, newest first.
func (lg *Log) Recent(ctx context.Context, n int) ([]*Entry, error) {
	rows, err := lg.db.QueryContext(ctx, `
		SELECT id, class, request_key, outcome, COALESCE(error, ''), timestamp
		FROM cache_events ORDER BY timestamp DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.Class, &e.Key, &e.Outcome, &e.Error, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune removes entries older than cutoff and reports how many were removed.
func (lg *Log) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := lg.db.ExecContext(ctx,
		`DELETE FROM cache_events WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (lg *Log) flushLoop() {
	defer close(lg.done)

	batch := make([]*Entry, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-lg.ch:
			if !ok {
				lg.flushBatch(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= 64 {
				lg.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				lg.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (lg *Log) flushBatch(batch []*Entry) {
	if len(batch) == 0 {
		return
	}

	tx, err := lg.db.Begin()
	if err != nil {
		lg.logger.Error("eventlog: begin tx", "error", err)
		return
	}

	stmt, err := tx.Prepare(`INSERT INTO cache_events (class, request_key, outcome, error, timestamp)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		lg.logger.Error("eventlog: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.Class, e.Key, e.Outcome, e.Error, e.Timestamp); err != nil {
			lg.logger.Error("eventlog: insert", "error", err, "key", e.Key)
		}
	}
	if err := tx.Commit(); err != nil {
		lg.logger.Error("eventlog: commit", "error", err)
	}
}
