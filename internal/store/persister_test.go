package store_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/livereload/internal/domain"
	"github.com/listenupapp/livereload/internal/registry"
	"github.com/listenupapp/livereload/internal/store"
	"github.com/listenupapp/livereload/internal/store/sqlite"
)

const installID = "3f786850e387550fdab836ed7e6dc881de23001b"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type backendFactory struct {
	name string
	open func(t *testing.T) store.Backend
}

func backends() []backendFactory {
	return []backendFactory{
		{"file", func(t *testing.T) store.Backend {
			b, err := store.NewFileBackend(filepath.Join(t.TempDir(), "snaps"))
			require.NoError(t, err)
			return b
		}},
		{"badger", func(t *testing.T) store.Backend {
			b, err := store.OpenBadger(filepath.Join(t.TempDir(), "db"), discardLogger())
			require.NoError(t, err)
			return b
		}},
		{"sqlite", func(t *testing.T) store.Backend {
			b, err := sqlite.Open(filepath.Join(t.TempDir(), "livereload.db"), discardLogger())
			require.NoError(t, err)
			return b
		}},
	}
}

func seededRegistry() *registry.Registry {
	r := registry.New()
	_, _ = r.Register(domain.CategoryStylesheet, "css/site.css", "/srv/static/css/site.css", time.Unix(100, 250), false)
	_, _ = r.Register(domain.CategoryStylesheet, "css/print.css", "/srv/static/css/print.css", time.Unix(90, 0), false)
	_, _ = r.Register(domain.CategoryMarkup, "base.html", "/srv/templates/base.html", time.Unix(120, 0), true)
	_, _ = r.Register(domain.CategoryDocument, "docs/index.md", "/srv/docs/index.md", time.Unix(130, 0), true)
	return r
}

func TestPersister_RoundTrip(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			backend := bf.open(t)
			t.Cleanup(func() { _ = backend.Close() })

			c := &clock{t: time.Now()}
			src := seededRegistry()
			require.True(t, store.NewPersister(backend, src, installID, discardLogger(), store.WithClock(c.now)).Save(context.Background()))

			c.t = c.t.Add(5 * time.Minute)
			dst := registry.New()
			p := store.NewPersister(backend, dst, installID, discardLogger(), store.WithClock(c.now))
			require.True(t, p.Load(context.Background()))

			want := src.Snapshot()
			got := dst.Snapshot()
			require.Equal(t, want.Len(), got.Len())
			for i, cat := range want.Categories {
				require.Len(t, got.Categories[i].Entries, len(cat.Entries))
				for j, e := range cat.Entries {
					g := got.Categories[i].Entries[j]
					assert.Equal(t, e.AbsolutePath, g.AbsolutePath)
					assert.Equal(t, e.RelativePath, g.RelativePath)
					assert.Equal(t, e.Filename, g.Filename)
					assert.Equal(t, e.RequiresFullReload, g.RequiresFullReload)
					assert.True(t, e.MTime.Equal(g.MTime), "mtime for %s", e.AbsolutePath)
				}
			}
		})
	}
}

func TestPersister_SaveWhileRegistering(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			backend := bf.open(t)
			t.Cleanup(func() { _ = backend.Close() })

			const writers, perWriter = 4, 50
			reg := registry.New()
			p := store.NewPersister(backend, reg, installID, discardLogger())
			ctx := context.Background()

			var wg sync.WaitGroup
			for w := range writers {
				wg.Go(func() {
					for i := range perWriter {
						abs := fmt.Sprintf("/srv/static/w%d/f%d.css", w, i)
						_, err := reg.Register(domain.CategoryStylesheet, fmt.Sprintf("w%d/f%d.css", w, i), abs, time.Unix(100, 0), false)
						assert.NoError(t, err)
						reg.Advance(domain.CategoryStylesheet, abs, time.Unix(200, int64(i)))
					}
				})
			}

			done := make(chan struct{})
			saves := make(chan int, 1)
			go func() {
				n := 0
				for {
					if p.Save(ctx) {
						n++
					}
					select {
					case <-done:
						saves <- n
						return
					default:
					}
				}
			}()

			wg.Wait()
			close(done)
			assert.Positive(t, <-saves)

			require.True(t, p.Save(ctx))
			snap, err := p.Read(ctx)
			require.NoError(t, err)
			require.Equal(t, writers*perWriter, snap.Len())
			for _, c := range snap.Categories {
				for _, e := range c.Entries {
					assert.Equal(t, int64(200), e.MTime.Unix(), e.AbsolutePath)
				}
			}

			dst := registry.New()
			require.True(t, store.NewPersister(backend, dst, installID, discardLogger()).Load(ctx))
			assert.Equal(t, writers*perWriter, dst.Len())
		})
	}
}

func TestPersister_RejectsStale(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			backend := bf.open(t)
			t.Cleanup(func() { _ = backend.Close() })

			c := &clock{t: time.Now()}
			require.True(t, store.NewPersister(backend, seededRegistry(), installID, discardLogger(), store.WithClock(c.now)).Save(context.Background()))

			c.t = c.t.Add(store.StaleAfter + time.Minute)
			dst := registry.New()
			p := store.NewPersister(backend, dst, installID, discardLogger(), store.WithClock(c.now))

			_, err := p.Read(context.Background())
			assert.ErrorIs(t, err, store.ErrStale)
			assert.False(t, p.Load(context.Background()))
			assert.Equal(t, 0, dst.Len())
		})
	}
}

func TestPersister_NoSnapshot(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			backend := bf.open(t)
			t.Cleanup(func() { _ = backend.Close() })

			dst := registry.New()
			p := store.NewPersister(backend, dst, installID, discardLogger())

			_, err := p.Read(context.Background())
			assert.ErrorIs(t, err, store.ErrNoSnapshot)
			assert.False(t, p.Load(context.Background()))
			assert.Equal(t, 0, dst.Len())
		})
	}
}

func TestPersister_SchemaMismatch(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			backend := bf.open(t)
			t.Cleanup(func() { _ = backend.Close() })

			now := time.Now()
			payload := []byte(`{"schema_version":99,"installation_id":"` + installID + `","saved_at":"` +
				now.UTC().Format(time.RFC3339Nano) + `","categories":[]}`)
			require.NoError(t, backend.Write(context.Background(), store.Record{
				InstallationID: installID,
				SchemaVersion:  99,
				SavedAt:        now,
				Payload:        payload,
			}))

			p := store.NewPersister(backend, registry.New(), installID, discardLogger())
			_, err := p.Read(context.Background())
			assert.ErrorIs(t, err, store.ErrSchemaMismatch)
			assert.False(t, p.Load(context.Background()))
		})
	}
}

func TestPersister_CorruptPayload(t *testing.T) {
	for _, bf := range backends() {
		t.Run(bf.name, func(t *testing.T) {
			backend := bf.open(t)
			t.Cleanup(func() { _ = backend.Close() })

			require.NoError(t, backend.Write(context.Background(), store.Record{
				InstallationID: installID,
				SchemaVersion:  store.SchemaVersion,
				SavedAt:        time.Now(),
				Payload:        []byte("{not json"),
			}))

			p := store.NewPersister(backend, registry.New(), installID, discardLogger())
			_, err := p.Read(context.Background())
			assert.ErrorIs(t, err, store.ErrCorrupt)
			assert.False(t, p.Load(context.Background()))
		})
	}
}

func TestPersister_OtherInstallationIgnored(t *testing.T) {
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	require.True(t, store.NewPersister(backend, seededRegistry(), installID, discardLogger()).Save(context.Background()))

	p := store.NewPersister(backend, registry.New(), "another-installation", discardLogger())
	assert.False(t, p.Load(context.Background()))
}

func TestFileBackend_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	backend, err := store.NewFileBackend(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	require.NoError(t, os.WriteFile(backend.Path(installID), []byte("garbage, not zstd"), 0o600))

	_, err = backend.Read(context.Background(), installID)
	assert.ErrorIs(t, err, store.ErrCorrupt)
}

func TestFileBackend_OlderFileTimeWins(t *testing.T) {
	dir := t.TempDir()
	backend, err := store.NewFileBackend(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	c := &clock{t: time.Now()}
	p := store.NewPersister(backend, seededRegistry(), installID, discardLogger(), store.WithClock(c.now))
	require.True(t, p.Save(context.Background()))

	// The embedded saved_at is fresh but the file itself is old.
	old := c.t.Add(-store.StaleAfter - time.Minute)
	require.NoError(t, os.Chtimes(backend.Path(installID), old, old))

	_, err = p.Read(context.Background())
	assert.ErrorIs(t, err, store.ErrStale)
}

func TestFileBackend_DirectoryVanishes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "livereload")
	backend, err := store.NewFileBackend(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	p := store.NewPersister(backend, seededRegistry(), installID, discardLogger())
	require.True(t, p.Save(context.Background()))

	// OS temp cleanup between saves.
	require.NoError(t, os.RemoveAll(dir))
	assert.True(t, p.Save(context.Background()))
	assert.FileExists(t, backend.Path(installID))

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileBackend_WriteFailureReportsFalse(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	backend, err := store.NewFileBackend(filepath.Join(blocker, "snaps"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	p := store.NewPersister(backend, seededRegistry(), installID, discardLogger())
	assert.False(t, p.Save(context.Background()))
}

func TestBadgerBackend_InMemory(t *testing.T) {
	backend, err := store.OpenBadgerInMemory(discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	src := seededRegistry()
	require.True(t, store.NewPersister(backend, src, installID, discardLogger()).Save(context.Background()))

	dst := registry.New()
	require.True(t, store.NewPersister(backend, dst, installID, discardLogger()).Load(context.Background()))
	assert.Equal(t, src.Len(), dst.Len())
}
