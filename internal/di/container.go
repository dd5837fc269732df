// Package di provides dependency injection configuration for the livereload server.
package di

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/livereload/internal/config"
	"github.com/listenupapp/livereload/internal/di/providers"
	"github.com/listenupapp/livereload/internal/logger"
	"github.com/listenupapp/livereload/internal/metrics"
	"github.com/listenupapp/livereload/internal/registry"
	"github.com/listenupapp/livereload/internal/service"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideMetrics)

	// Watch-set and persistence
	do.Provide(injector, providers.ProvideRegistry)
	do.Provide(injector, providers.ProvideStore)

	// Broadcast
	do.Provide(injector, providers.ProvideSSEManager)

	// Scanner layer
	do.Provide(injector, providers.ProvidePowerSource)
	do.Provide(injector, providers.ProvideScanner)

	// Business services
	do.Provide(injector, providers.ProvideWatchService)
	do.Provide(injector, providers.ProvideRateLimiter)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services. The persisted watch-set is restored
// before the scan loop starts and before the listener accepts requests.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*metrics.Metrics](injector)
	_ = do.MustInvoke[*registry.Registry](injector)
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)
	_ = do.MustInvoke[*providers.PowerHandle](injector)
	scan := do.MustInvoke[*providers.ScannerHandle](injector)

	watch, err := do.Invoke[*service.WatchService](injector)
	if err != nil {
		return err
	}
	watch.Init(context.Background())
	scan.Start()

	_ = do.MustInvoke[*providers.RateLimiterHandle](injector)
	if _, err := do.Invoke[*providers.HTTPServerHandle](injector); err != nil {
		return err
	}

	return nil
}
