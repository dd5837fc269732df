package sqlite

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/listenupapp/livereload/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := Open(dbPath, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)

	// Verify WAL mode is set.
	var journalMode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected wal, got %s", journalMode)
	}

	// Verify the snapshots table exists.
	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='snapshots'").Scan(&name)
	if err != nil {
		t.Fatalf("snapshots table missing: %v", err)
	}
}

func TestReadMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Read(context.Background(), "nobody")
	if !errors.Is(err, store.ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestWriteRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saved := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)

	rec := store.Record{
		InstallationID: "abc123",
		SchemaVersion:  store.SchemaVersion,
		SavedAt:        saved,
		Payload:        []byte(`{"v":1}`),
	}
	if err := s.Write(ctx, rec); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := s.Read(ctx, "abc123")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.InstallationID != rec.InstallationID {
		t.Errorf("installation id = %q, want %q", got.InstallationID, rec.InstallationID)
	}
	if got.SchemaVersion != rec.SchemaVersion {
		t.Errorf("schema version = %d, want %d", got.SchemaVersion, rec.SchemaVersion)
	}
	if !got.SavedAt.Equal(saved) {
		t.Errorf("saved at = %v, want %v", got.SavedAt, saved)
	}
	if string(got.Payload) != string(rec.Payload) {
		t.Errorf("payload = %s, want %s", got.Payload, rec.Payload)
	}
	if !got.ModTime.IsZero() {
		t.Errorf("mod time should not be tracked, got %v", got.ModTime)
	}
}

func TestWriteReplacesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, payload := range []string{"first", "second"} {
		err := s.Write(ctx, store.Record{
			InstallationID: "abc123",
			SchemaVersion:  store.SchemaVersion,
			SavedAt:        time.Unix(int64(i), 0),
			Payload:        []byte(payload),
		})
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	var rows int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Errorf("expected 1 row, got %d", rows)
	}

	got, err := s.Read(ctx, "abc123")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got.Payload) != "second" {
		t.Errorf("payload = %s, want second", got.Payload)
	}
}

func TestReadCorruptTimestamp(t *testing.T) {
	s := newTestStore(t)

	_, err := s.db.Exec(`INSERT INTO snapshots (installation_id, schema_version, saved_at, payload) VALUES ('x', 1, 'yesterday', X'00')`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err = s.Read(context.Background(), "x")
	if !errors.Is(err, store.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestInstallationsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Write(ctx, store.Record{InstallationID: "a", SchemaVersion: 1, SavedAt: time.Now(), Payload: []byte("a")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.Read(ctx, "b"); !errors.Is(err, store.ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot for other installation, got %v", err)
	}
}
