// Package api provides the HTTP API server and handlers for the live-reload server.
package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/listenupapp/livereload/internal/metrics"
	"github.com/listenupapp/livereload/internal/ratelimit"
	"github.com/listenupapp/livereload/internal/service"
	"github.com/listenupapp/livereload/internal/sse"
)

// Deps holds everything the HTTP layer talks to.
type Deps struct {
	Watch       *service.WatchService
	Manager     *sse.Manager
	Metrics     *metrics.Metrics
	Limiter     *ratelimit.KeyedRateLimiter
	CORSOrigins []string
	Logger      *slog.Logger
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	watch     *service.WatchService
	manager   *sse.Manager
	metrics   *metrics.Metrics
	limiter   *ratelimit.KeyedRateLimiter
	origins   []string
	sseStream *sse.Handler
	wsStream  *sse.WebSocketHandler
	router    *chi.Mux
	api       huma.API
	logger    *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(deps Deps) *Server {
	s := &Server{
		watch:     deps.Watch,
		manager:   deps.Manager,
		metrics:   deps.Metrics,
		limiter:   deps.Limiter,
		origins:   deps.CORSOrigins,
		sseStream: sse.NewHandler(deps.Manager, deps.Logger),
		wsStream:  sse.NewWebSocketHandler(deps.Manager, deps.CORSOrigins, deps.Logger),
		router:    chi.NewRouter(),
		logger:    deps.Logger,
	}

	s.setupMiddleware()

	humaConfig := huma.DefaultConfig("Livereload API", "1.0.0")
	humaConfig.Info.Description = "Registers watched assets and streams change notifications to browsers."
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, mainly for tests.
func (s *Server) API() huma.API {
	return s.api
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) corsOrigins() []string {
	if len(s.origins) == 0 {
		return []string{"*"}
	}
	return s.origins
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerHealthRoutes()
	s.registerAssetRoutes()

	s.router.Handle("/metrics", s.metrics.Handler())

	// Streams bypass huma: they are long-lived and write their own frames.
	s.router.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(RateLimitMiddleware(s.limiter, s.metrics, s.logger))
		}
		r.Get("/api/v1/watch", s.sseStream.ServeHTTP)
		r.Get("/api/v1/watch/ws", s.wsStream.ServeHTTP)
	})
}
