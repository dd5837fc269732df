// Package sqlite provides a SQLite snapshot backend.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/listenupapp/livereload/internal/store"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store keeps one snapshot row per installation.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.Backend = (*Store)(nil)

// Open creates a SQLite store at the given path, configuring WAL mode and
// applying the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	logger.Info("SQLite database opened successfully", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Name implements store.Backend.
func (s *Store) Name() string { return "sqlite" }

// Read implements store.Backend.
func (s *Store) Read(ctx context.Context, installationID string) (store.Record, error) {
	var (
		rec     store.Record
		savedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT installation_id, schema_version, saved_at, payload FROM snapshots WHERE installation_id = ?`,
		installationID,
	).Scan(&rec.InstallationID, &rec.SchemaVersion, &savedAt, &rec.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNoSnapshot
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("query snapshot: %w", err)
	}

	rec.SavedAt, err = parseTime(savedAt)
	if err != nil {
		return store.Record{}, fmt.Errorf("%w: saved_at %q", store.ErrCorrupt, savedAt)
	}
	return rec, nil
}

// Write implements store.Backend.
func (s *Store) Write(ctx context.Context, rec store.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (installation_id, schema_version, saved_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(installation_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			saved_at = excluded.saved_at,
			payload = excluded.payload`,
		rec.InstallationID,
		rec.SchemaVersion,
		formatTime(rec.SavedAt),
		rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Close implements store.Backend.
func (s *Store) Close() error {
	return s.db.Close()
}

// formatTime formats a time.Time to RFC3339Nano for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a RFC3339Nano string back to time.Time.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
