package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"sjsage522/modaggregator/internal/model"
	apperrors "sjsage522/modaggregator/pkg/errors"

	_ "modernc.org/sqlite"
)

// DB is the shared SQLite handle behind every store in this package and the
// snapshot index. It is opened once and injected into each component.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path, applies the
// connection pragmas and runs pending migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)", path)
	return open(ctx, dsn, 0)
}

var memoryCounter atomic.Int64

// OpenMemory opens a private in-memory database, mostly useful in tests.
func OpenMemory(ctx context.Context) (*DB, error) {
	dsn := fmt.Sprintf("file:modagg_mem_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", memoryCounter.Add(1))
	return open(ctx, dsn, 1)
}

func open(ctx context.Context, dsn string, maxConns int) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.NewStore("failed to open database", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, apperrors.NewStore("failed to ping database", err)
	}

	db := &DB{DB: sqlDB}
	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "initial_schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS sites (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				name          TEXT NOT NULL,
				url           TEXT NOT NULL UNIQUE,
				parser_config TEXT NOT NULL,
				created_at    TEXT NOT NULL,
				updated_at    TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS mods (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				site_id     INTEGER NOT NULL,
				title       TEXT NOT NULL,
				url         TEXT NOT NULL UNIQUE,
				version     TEXT NOT NULL DEFAULT '',
				author      TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				image_url   TEXT NOT NULL DEFAULT '',
				changes     TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_mods_site_updated ON mods (site_id, updated_at)`,
			`CREATE TABLE IF NOT EXISTS saved_pages (
				id                INTEGER PRIMARY KEY AUTOINCREMENT,
				site_id           INTEGER NOT NULL DEFAULT 0,
				url               TEXT NOT NULL,
				location          TEXT NOT NULL,
				version_timestamp TEXT NOT NULL,
				created_at        TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_saved_pages_key ON saved_pages (site_id, url, version_timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_saved_pages_version ON saved_pages (version_timestamp)`,
		},
	},
	{
		version: 2,
		name:    "notifications",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS notifications (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				mod_id     INTEGER NOT NULL DEFAULT 0,
				site_id    INTEGER NOT NULL DEFAULT 0,
				title      TEXT NOT NULL,
				message    TEXT NOT NULL,
				read       INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications (created_at)`,
		},
	},
}

// migrate applies every migration not yet recorded in schema_migrations, each
// in its own transaction.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return apperrors.NewStore("create schema_migrations table", err)
	}

	for _, m := range migrations {
		var count int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version,
		).Scan(&count); err != nil {
			return apperrors.NewStore(fmt.Sprintf("check migration %d", m.version), err)
		}
		if count > 0 {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return apperrors.NewStore(fmt.Sprintf("apply migration %d (%s)", m.version, m.name), err)
		}
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.version, m.name, formatTime(time.Now()),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, apperrors.NewStore("read schema version", err)
	}
	return int(v.Int64), nil
}

// Timestamps are stored as fixed-width UTC text so that string order in SQL
// matches time order.
func formatTime(t time.Time) string {
	return model.FormatVersion(t)
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(model.VersionLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
