// Package store persists audit run history and the last known identity of
// each device in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/mod/semver"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// ErrNewerSchema is returned when the history file was last written by a newer
// sitecheck than the one opening it.
var ErrNewerSchema = errors.New("history was written by a newer version of sitecheck")

// devVersion is the version of unreleased builds. It opens any history file.
const devVersion = "dev"

// modernc.org/sqlite takes pragmas as statements rather than DSN parameters.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// History is the run history database.
type History struct {
	db *sql.DB
}

// Open opens or creates the history file at path, brings its schema up to
// date and records appVersion as the last writer.
func Open(ctx context.Context, path, appVersion string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history %q: %w", path, err)
	}
	// One writer; WAL keeps readers concurrent.
	db.SetMaxOpenConns(1)

	h := &History{db: db}
	if err := h.init(ctx, appVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("open history %q: %w", path, err)
	}
	return h, nil
}

func (h *History) init(ctx context.Context, appVersion string) error {
	for _, p := range pragmas {
		if _, err := h.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := h.claim(ctx, appVersion); err != nil {
		return err
	}
	return h.migrate(ctx)
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (h *History) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback: %v (after %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// claim refuses a history file last written by a newer release and records
// appVersion otherwise. Development builds always pass.
func (h *History) claim(ctx context.Context, appVersion string) error {
	if _, err := h.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS app_version (
			id         INTEGER  PRIMARY KEY CHECK (id = 1),
			version    TEXT     NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create app_version: %w", err)
	}

	var stored string
	err := h.db.QueryRowContext(ctx, "SELECT version FROM app_version WHERE id = 1").Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read app version: %w", err)
	case olderThan(appVersion, stored):
		return fmt.Errorf("%w: file=%s, binary=%s", ErrNewerSchema, stored, appVersion)
	case stored == appVersion:
		return nil
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO app_version (id, version) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version, updated_at = CURRENT_TIMESTAMP`,
		appVersion)
	if err != nil {
		return fmt.Errorf("record app version: %w", err)
	}
	return nil
}

// olderThan reports whether release a precedes release b. Development builds
// are never older.
func olderThan(a, b string) bool {
	if a == devVersion || b == devVersion {
		return false
	}
	return semver.Compare(canonical(a), canonical(b)) < 0
}

func canonical(v string) string {
	if v != "" && v[0] != 'v' {
		return "v" + v
	}
	return v
}

// migration is one forward-only schema step.
type migration struct {
	version     int
	description string
	up          func(tx *sql.Tx) error
}

// migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (h *History) migrate(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER  PRIMARY KEY,
			description TEXT     NOT NULL,
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := h.schemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := h.inTx(ctx, func(tx *sql.Tx) error {
			if err := m.up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
				m.version, m.description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
	}
	return nil
}

func (h *History) schemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := h.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}
