// Package store persists the watch-set between process restarts.
//
// A snapshot is a versioned JSON envelope. Backends only move bytes; the
// Persister owns encoding, the staleness rule and the registry hand-off.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/listenupapp/livereload/internal/domain"
)

// SchemaVersion is bumped whenever the envelope layout changes. Snapshots with
// any other version are discarded.
const SchemaVersion = 1

// StaleAfter is how old a snapshot may be before it is ignored on load.
const StaleAfter = 15 * time.Minute

// Sentinel errors. Load failures are never fatal; these exist so callers and
// tests can tell the reasons apart.
var (
	ErrNoSnapshot     = errors.New("no snapshot")
	ErrStale          = errors.New("snapshot is stale")
	ErrCorrupt        = errors.New("snapshot is corrupt")
	ErrSchemaMismatch = errors.New("snapshot schema version mismatch")
)

// Record is what a backend stores for one installation.
type Record struct {
	InstallationID string
	SchemaVersion  int
	SavedAt        time.Time
	Payload        []byte

	// ModTime is the storage-level modification time. Zero when the backend
	// does not track one.
	ModTime time.Time
}

// Backend reads and writes snapshot records.
type Backend interface {
	Name() string
	// Read returns ErrNoSnapshot when nothing is stored for installationID.
	Read(ctx context.Context, installationID string) (Record, error)
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Envelope is the serialized form of a snapshot.
type Envelope struct {
	SchemaVersion  int                       `json:"schema_version"`
	InstallationID string                    `json:"installation_id"`
	SavedAt        time.Time                 `json:"saved_at"`
	Categories     []domain.CategorySnapshot `json:"categories"`
}

// Snapshot returns the envelope contents as a domain snapshot.
func (e Envelope) Snapshot() domain.Snapshot {
	return domain.Snapshot{Categories: e.Categories}
}

// Encode serializes a snapshot into an envelope payload.
func Encode(installationID string, savedAt time.Time, s domain.Snapshot) ([]byte, error) {
	data, err := json.Marshal(Envelope{
		SchemaVersion:  SchemaVersion,
		InstallationID: installationID,
		SavedAt:        savedAt.UTC(),
		Categories:     s.Categories,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Decode parses an envelope payload. It checks structure and schema version
// but not age.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if env.SchemaVersion != SchemaVersion {
		return Envelope{}, fmt.Errorf("%w: got %d, want %d", ErrSchemaMismatch, env.SchemaVersion, SchemaVersion)
	}
	if env.SavedAt.IsZero() {
		return Envelope{}, fmt.Errorf("%w: missing saved_at", ErrCorrupt)
	}
	return env, nil
}
