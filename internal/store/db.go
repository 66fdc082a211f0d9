// Package store persists materialized events in SQLite and keeps dated
// snapshot blobs on disk.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/sqlscan"
	_ "modernc.org/sqlite"
)

const eventsTable = "calendar_events"

// SQ builds SQLite statements with ? placeholders.
var SQ = sq.StatementBuilder.PlaceholderFormat(sq.Question)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS calendar_events (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id           TEXT    NOT NULL,
    source            TEXT    NOT NULL,
    external_event_id TEXT    NOT NULL,
    start_utc         INTEGER NOT NULL,
    end_utc           INTEGER NOT NULL,
    is_all_day        INTEGER NOT NULL DEFAULT 0,
    title             TEXT    NOT NULL DEFAULT '',
    organizer_display TEXT    NOT NULL DEFAULT '',
    with_display      TEXT    NOT NULL DEFAULT '[]',
    sanitized_body    TEXT    NOT NULL DEFAULT '',
    body_preview      TEXT    NOT NULL DEFAULT '',
    content_hash      TEXT    NOT NULL DEFAULT '',
    updated_at        INTEGER NOT NULL DEFAULT 0,
    UNIQUE (user_id, source, external_event_id, start_utc)
);

CREATE INDEX IF NOT EXISTS calendar_events_range
    ON calendar_events (user_id, source, start_utc);
CREATE INDEX IF NOT EXISTS calendar_events_end
    ON calendar_events (end_utc);
`

// sqlizer is satisfied by every squirrel builder.
type sqlizer interface {
	ToSql() (string, []interface{}, error)
}

// queryable is *sql.DB or *sql.Tx.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func execFn(ctx context.Context, q queryable, s sqlizer) (sql.Result, error) {
	query, args, err := s.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ToSql: %w", err)
	}
	return q.ExecContext(ctx, query, args...)
}

func selectFn(ctx context.Context, q queryable, dst interface{}, s sqlizer) error {
	query, args, err := s.ToSql()
	if err != nil {
		return fmt.Errorf("ToSql: %w", err)
	}
	return sqlscan.Select(ctx, q, dst, query, args...)
}

// openDB opens (creating if needed) the SQLite file at path and applies the
// schema. ":memory:" is accepted for tests.
func openDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer keeps SQLite happy and makes :memory: a single database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}
