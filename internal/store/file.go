package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const snapshotExt = ".snap"

// FileBackend keeps one zstd-compressed snapshot file per installation.
// The directory may live under the OS temp dir; it is recreated on every write.
type FileBackend struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewFileBackend creates a file backend rooted at dir. The directory does not
// need to exist yet.
func NewFileBackend(dir string) (*FileBackend, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(64*1024*1024),
	)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &FileBackend{dir: dir, encoder: encoder, decoder: decoder}, nil
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

// Path returns the snapshot file for an installation.
func (b *FileBackend) Path(installationID string) string {
	return filepath.Join(b.dir, installationID+snapshotExt)
}

// Read implements Backend. ModTime is the file's modification time.
func (b *FileBackend) Read(_ context.Context, installationID string) (Record, error) {
	path := b.Path(installationID)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrNoSnapshot
	}
	if err != nil {
		return Record{}, fmt.Errorf("stat snapshot: %w", err)
	}

	compressed, err := os.ReadFile(path) //#nosec G304 -- path is derived from the configured snapshot dir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, ErrNoSnapshot
		}
		return Record{}, fmt.Errorf("read snapshot: %w", err)
	}

	payload, err := b.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return Record{}, fmt.Errorf("%w: decompress: %w", ErrCorrupt, err)
	}

	return Record{
		InstallationID: installationID,
		Payload:        payload,
		ModTime:        info.ModTime(),
	}, nil
}

// Write implements Backend. The file is replaced atomically via rename.
func (b *FileBackend) Write(_ context.Context, rec Record) error {
	if err := os.MkdirAll(b.dir, 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, rec.InstallationID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	compressed := b.encoder.EncodeAll(rec.Payload, make([]byte, 0, len(rec.Payload)/4))
	if _, err := tmp.Write(compressed); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, b.Path(rec.InstallationID)); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	committed = true
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error {
	b.decoder.Close()
	return b.encoder.Close()
}
