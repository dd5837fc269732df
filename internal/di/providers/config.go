// Package providers contains dependency injection providers for the livereload server.
package providers

import (
	"os"

	"github.com/samber/do/v2"

	"github.com/listenupapp/livereload/internal/config"
	"github.com/listenupapp/livereload/internal/logger"
	"github.com/listenupapp/livereload/internal/metrics"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig(os.Args[1:])
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting livereload server",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"port", cfg.Server.Port,
		"snapshot_backend", cfg.Snapshot.Backend,
		"snapshot_dir", cfg.Snapshot.Dir,
	)

	return log, nil
}

// ProvideMetrics provides the Prometheus collectors.
func ProvideMetrics(i do.Injector) (*metrics.Metrics, error) {
	return metrics.New(), nil
}
