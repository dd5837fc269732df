package sse

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/listenupapp/livereload/internal/domain"
	"github.com/listenupapp/livereload/internal/http/response"
	"github.com/listenupapp/livereload/internal/id"
)

// StreamRequest is the validated query of a stream connection.
type StreamRequest struct {
	Session id.Session
	Since   time.Time
}

// ParseStreamRequest reads uuid and since from the query string. A missing
// or malformed uuid is a forbidden request; a malformed since is a bad one.
func ParseStreamRequest(r *http.Request) (StreamRequest, int, error) {
	q := r.URL.Query()

	session, err := id.ParseSession(q.Get("uuid"))
	if err != nil {
		return StreamRequest{}, http.StatusForbidden, err
	}

	req := StreamRequest{Session: session}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 {
			return StreamRequest{}, http.StatusBadRequest, errors.New("since must be non-negative epoch seconds")
		}
		req.Since = domain.FromUnixSeconds(f)
	}
	return req, http.StatusOK, nil
}

// writeStreamError writes the JSON error for a rejected stream request.
func writeStreamError(w http.ResponseWriter, status int, err error, logger *slog.Logger) {
	switch status {
	case http.StatusForbidden:
		response.Forbidden(w, "invalid session id: "+err.Error(), logger)
	case http.StatusBadRequest:
		response.BadRequest(w, err.Error(), logger)
	default:
		response.HandleError(w, err, logger)
	}
}

// Handler serves the SSE stream at GET /api/v1/watch.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
	}
}

// ServeHTTP handles the SSE connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, status, err := ParseStreamRequest(r)
	if err != nil {
		h.logger.Warn("rejected stream request",
			slog.Int("status", status),
			slog.String("error", err.Error()))
		writeStreamError(w, status, err, h.logger)
		return
	}

	// Check if request context is already canceled (early client disconnect).
	if r.Context().Err() != nil {
		return
	}

	sub, err := h.manager.Connect(req.Session)
	if err != nil {
		response.HandleError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.manager.Disconnect(sub.ID)
		h.logger.Error("failed to flush headers", slog.String("error", err.Error()))
		return
	}

	t := &sseTransport{w: w, rc: rc, gone: r.Context().Done(), logger: h.logger}
	_ = NewSession(h.manager, sub, req.Since).Run(r.Context(), t)
}

type sseTransport struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	gone   <-chan struct{}
	logger *slog.Logger
}

func (t *sseTransport) Gone() <-chan struct{} { return t.gone }

func (t *sseTransport) Send(_ context.Context, f Frame) error {
	data, err := f.EncodeSSE()
	if err != nil {
		return err
	}

	// Reset the deadline before each write so a stalled peer cannot hold the stream.
	if err := t.rc.SetWriteDeadline(time.Now().Add(60 * time.Second)); err != nil {
		t.logger.Debug("failed to set write deadline", slog.String("error", err.Error()))
	}

	if _, err := t.w.Write(data); err != nil {
		return err
	}
	return t.rc.Flush()
}
