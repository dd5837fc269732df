package providers

import (
	"context"
	"io"
	"time"

	"github.com/samber/do/v2"

	"github.com/listenupapp/livereload/internal/config"
	"github.com/listenupapp/livereload/internal/logger"
	"github.com/listenupapp/livereload/internal/metrics"
	"github.com/listenupapp/livereload/internal/power"
	"github.com/listenupapp/livereload/internal/registry"
	"github.com/listenupapp/livereload/internal/scanner"
)

// powerStateTTL bounds how often the battery is actually queried.
const powerStateTTL = 30 * time.Second

// PowerHandle wraps the battery source with Shutdownable.
type PowerHandle struct {
	power.Source
	raw power.Source
}

// Shutdown implements do.Shutdownable.
func (h *PowerHandle) Shutdown() error {
	if c, ok := h.raw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ProvidePowerSource detects where battery state comes from.
func ProvidePowerSource(i do.Injector) (*PowerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	raw := power.Detect(context.Background(), cfg.Power.Source, log.Component("power"))
	log.Info("Power source selected", "requested", cfg.Power.Source, "source", raw.Name())

	return &PowerHandle{Source: power.NewCached(raw, powerStateTTL), raw: raw}, nil
}

// ScannerHandle owns the scan loop goroutine.
type ScannerHandle struct {
	*scanner.Scanner
	store  *StoreHandle
	log    *logger.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the scan loop. Calling it twice is a no-op.
func (h *ScannerHandle) Start() {
	if h.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		if err := h.Scanner.Run(ctx); err != nil {
			h.log.Error("scan loop failed", "error", err)
		}
	}()
}

// Shutdown implements do.Shutdownable. It stops the loop and writes a final snapshot.
func (h *ScannerHandle) Shutdown() error {
	if h.done != nil {
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(shutdownTimeout):
			h.log.Warn("scan loop did not stop in time")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if !h.store.Save(ctx) {
		h.log.Warn("final snapshot not written")
	}
	return nil
}

// ProvideScanner provides the scan engine. The loop starts in Bootstrap,
// once the persisted watch-set has been restored.
func ProvideScanner(i do.Injector) (*ScannerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	reg := do.MustInvoke[*registry.Registry](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	powerHandle := do.MustInvoke[*PowerHandle](i)
	m := do.MustInvoke[*metrics.Metrics](i)

	s := scanner.New(reg, sseHandle.Manager, log.Component("scanner"), scanner.Options{
		QuickInterval: cfg.Scanner.QuickInterval,
		SlowInterval:  cfg.Scanner.SlowInterval,
		PingEvery:     cfg.Scanner.PingEvery,
		Power:         powerHandle.Source,
		Snapshotter:   storeHandle.Persister,
		Metrics:       m,
	})

	return &ScannerHandle{Scanner: s, store: storeHandle, log: log}, nil
}
