package sse

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/listenupapp/livereload/internal/http/response"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
	wsMaxMessageSize  = 4096
)

// WebSocketHandler serves the stream at GET /api/v1/watch/ws. Each frame is
// one JSON text message.
type WebSocketHandler struct {
	manager        *Manager
	allowedOrigins []string
	logger         *slog.Logger
}

// NewWebSocketHandler creates a WebSocket stream handler. With no allowed
// origins only same-host pages may connect.
func NewWebSocketHandler(manager *Manager, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:        manager,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, status, err := ParseStreamRequest(r)
	if err != nil {
		h.logger.Warn("rejected websocket request",
			slog.Int("status", status),
			slog.String("error", err.Error()))
		writeStreamError(w, status, err, h.logger)
		return
	}

	if !h.manager.Accepting() {
		response.HandleError(w, ErrShuttingDown, h.logger)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, h.allowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub, err := h.manager.Connect(req.Session)
	if err != nil {
		closeWS(conn, websocket.CloseTryAgainLater, "server is shutting down")
		return
	}

	t := newWSTransport(conn)
	go t.readPump()

	if err := NewSession(h.manager, sub, req.Since).Run(r.Context(), t); err == nil {
		closeWS(conn, websocket.CloseNormalClosure, "")
	}
}

type wsTransport struct {
	conn     *websocket.Conn
	gone     chan struct{}
	goneOnce sync.Once
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn, gone: make(chan struct{})}
}

func (t *wsTransport) Gone() <-chan struct{} { return t.gone }

func (t *wsTransport) Send(_ context.Context, f Frame) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return t.conn.WriteJSON(f)
}

// readPump discards client messages; its only job is noticing the peer leave.
func (t *wsTransport) readPump() {
	defer t.goneOnce.Do(func() { close(t.gone) })
	t.conn.SetReadLimit(wsMaxMessageSize)
	for {
		if _, _, err := t.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeWS(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()
	if originHost == "" {
		return false
	}

	if len(allowed) > 0 {
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(origin, a) || strings.EqualFold(originHost, a) {
				return true
			}
		}
		return false
	}

	return strings.EqualFold(originHost, hostOnly(r.Host))
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.Trim(host, "[]")
	}
	return strings.Trim(hostport, "[]")
}
