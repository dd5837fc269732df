package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/livereload/internal/config"
	"github.com/listenupapp/livereload/internal/logger"
	"github.com/listenupapp/livereload/internal/ratelimit"
	"github.com/listenupapp/livereload/internal/registry"
	"github.com/listenupapp/livereload/internal/service"
)

// ProvideWatchService provides the watch-set service.
func ProvideWatchService(i do.Injector) (*service.WatchService, error) {
	reg := do.MustInvoke[*registry.Registry](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	scannerHandle := do.MustInvoke[*ScannerHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewWatchService(
		reg,
		storeHandle.Persister,
		scannerHandle.Scanner,
		sseHandle.Manager,
		log.Component("watch"),
	), nil
}

// RateLimiterHandle wraps the per-client connect limiter with Shutdownable.
type RateLimiterHandle struct {
	*ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *RateLimiterHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideRateLimiter provides the stream connect limiter.
func ProvideRateLimiter(i do.Injector) (*RateLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &RateLimiterHandle{
		KeyedRateLimiter: ratelimit.New(cfg.Server.ConnectRate, cfg.Server.ConnectBurst),
	}, nil
}
