package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/listenupapp/livereload/internal/api"
	"github.com/listenupapp/livereload/internal/config"
	"github.com/listenupapp/livereload/internal/logger"
	"github.com/listenupapp/livereload/internal/metrics"
	"github.com/listenupapp/livereload/internal/service"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable. Open streams are told to drain
// through RegisterOnShutdown before the server waits for them to return.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer binds the listener and starts serving.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	watch := do.MustInvoke[*service.WatchService](i)
	limiter := do.MustInvoke[*RateLimiterHandle](i)
	m := do.MustInvoke[*metrics.Metrics](i)

	apiServer := api.NewServer(api.Deps{
		Watch:       watch,
		Manager:     sseHandle.Manager,
		Metrics:     m,
		Limiter:     limiter.KeyedRateLimiter,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log.Component("http"),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Streams are hijacked or long-lived, so Shutdown alone would wait on them
	// until the timeout.
	srv.RegisterOnShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sseHandle.Manager.Shutdown(ctx); err != nil {
			log.Warn("stream drain incomplete", "error", err)
		}
	})

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	go func() {
		log.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
