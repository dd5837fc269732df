package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/listenupapp/livereload/internal/config"
	"github.com/listenupapp/livereload/internal/id"
	"github.com/listenupapp/livereload/internal/logger"
	"github.com/listenupapp/livereload/internal/metrics"
	"github.com/listenupapp/livereload/internal/registry"
	"github.com/listenupapp/livereload/internal/sse"
	"github.com/listenupapp/livereload/internal/store"
	"github.com/listenupapp/livereload/internal/store/sqlite"
)

// SSEManagerHandle wraps sse.Manager with Shutdownable.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.Manager.Shutdown(ctx)
	h.cancel()
	return err
}

// ProvideRegistry provides the in-memory watch-set.
func ProvideRegistry(i do.Injector) (*registry.Registry, error) {
	return registry.New(), nil
}

// ProvideSSEManager provides the subscriber manager and starts its broadcast loop.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	reg := do.MustInvoke[*registry.Registry](i)
	m := do.MustInvoke[*metrics.Metrics](i)

	manager := sse.NewManager(log.Component("sse"), sse.ManagerOptions{
		QueueSize: cfg.Scanner.QueueSize,
		Source:    reg,
		Metrics:   m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	return &SSEManagerHandle{Manager: manager, cancel: cancel}, nil
}

// StoreHandle wraps the snapshot persister with Shutdownable.
type StoreHandle struct {
	*store.Persister
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Persister.Close()
}

// ProvideStore opens the configured snapshot backend.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	reg := do.MustInvoke[*registry.Registry](i)
	m := do.MustInvoke[*metrics.Metrics](i)

	backend, err := OpenBackend(cfg.Snapshot, log)
	if err != nil {
		return nil, err
	}

	installationID := id.Installation(cfg.Snapshot.InstallationRoot)
	log.Info("Snapshot store opened",
		"backend", backend.Name(),
		"dir", cfg.Snapshot.Dir,
		"installation_id", installationID,
	)

	p := store.NewPersister(backend, reg, installationID, log.Component("store"), store.WithMetrics(m))
	return &StoreHandle{Persister: p}, nil
}

// OpenBackend opens the snapshot backend named by cfg.Backend. Unknown names
// fall back to the file backend.
func OpenBackend(cfg config.SnapshotConfig, log *logger.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		b, err := store.OpenBadger(filepath.Join(cfg.Dir, "db"), log.Component("badger"))
		if err != nil {
			return nil, fmt.Errorf("open badger snapshot store: %w", err)
		}
		return b, nil
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
		s, err := sqlite.Open(filepath.Join(cfg.Dir, "livereload.db"), log.Component("sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite snapshot store: %w", err)
		}
		return s, nil
	default:
		b, err := store.NewFileBackend(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("open file snapshot store: %w", err)
		}
		return b, nil
	}
}
