package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	components := map[string]ComponentHealth{
		"registry": s.checkRegistry(),
		"scanner":  s.checkScanner(),
		"sse":      s.checkStreams(),
		"store":    s.checkStore(),
	}

	overall := "healthy"
	for _, c := range components {
		switch c.Status {
		case "unhealthy":
			overall = "unhealthy"
		case "degraded":
			if overall == "healthy" {
				overall = "degraded"
			}
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:     overall,
			Components: components,
		},
	}, nil
}

func (s *Server) checkRegistry() ComponentHealth {
	if s.watch == nil {
		return ComponentHealth{Status: "degraded", Message: "watch service not configured"}
	}
	if !s.watch.Initialized() {
		return ComponentHealth{Status: "degraded", Message: "snapshot not loaded yet"}
	}
	return ComponentHealth{Status: "healthy", Message: plural(s.watch.Stats().Files, "watched file")}
}

func (s *Server) checkScanner() ComponentHealth {
	if s.watch == nil {
		return ComponentHealth{Status: "degraded", Message: "watch service not configured"}
	}
	st := s.watch.Stats().Scanner
	if !st.Running {
		return ComponentHealth{Status: "degraded", Message: "scan loop not running"}
	}
	return ComponentHealth{
		Status:  "healthy",
		Message: fmt.Sprintf("%s, every %s (%s)", plural(int(st.Passes), "pass"), st.Interval, st.Reason),
	}
}

func (s *Server) checkStore() ComponentHealth {
	if s.watch == nil {
		return ComponentHealth{Status: "degraded", Message: "watch service not configured"}
	}
	backend := s.watch.Stats().Backend
	if backend == "" {
		return ComponentHealth{Status: "degraded", Message: "snapshots disabled"}
	}
	return ComponentHealth{Status: "healthy", Message: backend + " backend"}
}

// checkStreams reports whether new subscribers are accepted.
func (s *Server) checkStreams() ComponentHealth {
	if s.manager == nil {
		return ComponentHealth{Status: "degraded", Message: "subscriber manager not configured"}
	}
	if !s.manager.Accepting() {
		return ComponentHealth{Status: "unhealthy", Message: "shutting down"}
	}
	return ComponentHealth{
		Status:  "healthy",
		Message: plural(s.manager.SubscriberCount(), "connected client"),
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	many := noun + "s"
	if strings.HasSuffix(noun, "s") {
		many = noun + "es"
	}
	if n == 0 {
		return "no " + many
	}
	return fmt.Sprintf("%d %s", n, many)
}
