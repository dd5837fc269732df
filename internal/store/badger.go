package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const snapshotKeyPrefix = "snapshot:"

// BadgerBackend stores one key per installation in a Badger database.
type BadgerBackend struct {
	db     *badger.DB
	logger *slog.Logger
}

type badgerValue struct {
	SchemaVersion int       `json:"schema_version"`
	SavedAt       time.Time `json:"saved_at"`
	Payload       []byte    `json:"payload"`
}

// OpenBadger opens (or creates) a Badger database at path.
func OpenBadger(path string, logger *slog.Logger) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	logger.Info("Badger database opened successfully", "path", path)
	return &BadgerBackend{db: db, logger: logger}, nil
}

// OpenBadgerInMemory opens a Badger database that never touches disk.
func OpenBadgerInMemory(logger *slog.Logger) (*BadgerBackend, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger db: %w", err)
	}
	return &BadgerBackend{db: db, logger: logger}, nil
}

// Name implements Backend.
func (b *BadgerBackend) Name() string { return "badger" }

func snapshotKey(installationID string) []byte {
	return []byte(snapshotKeyPrefix + installationID)
}

// Read implements Backend.
func (b *BadgerBackend) Read(_ context.Context, installationID string) (Record, error) {
	var v badgerValue
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(installationID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNoSnapshot
	}
	if err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return Record{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		return Record{}, fmt.Errorf("read snapshot: %w", err)
	}

	return Record{
		InstallationID: installationID,
		SchemaVersion:  v.SchemaVersion,
		SavedAt:        v.SavedAt,
		Payload:        v.Payload,
	}, nil
}

// Write implements Backend.
func (b *BadgerBackend) Write(_ context.Context, rec Record) error {
	data, err := json.Marshal(badgerValue{
		SchemaVersion: rec.SchemaVersion,
		SavedAt:       rec.SavedAt.UTC(),
		Payload:       rec.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(rec.InstallationID), data)
	})
}

// Close implements Backend.
func (b *BadgerBackend) Close() error {
	b.logger.Info("Closing database connection")
	return b.db.Close()
}
