package websocket

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/napstar/Voting-App/internal/adapter/metrics"
	"github.com/napstar/Voting-App/internal/broadcast"
	apperrors "github.com/napstar/Voting-App/internal/platform/errors"
)

const (
	// pongWait must exceed the hub's ping interval.
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
	closeTimeout   = time.Second

	rejectShuttingDown = "shutting_down"
)

// Hub is the part of broadcast.Hub the endpoint needs.
type Hub interface {
	Attach(t broadcast.Transport) (broadcast.Handle, error)
	Detach(h broadcast.Handle)
}

// Handler serves the observer WebSocket endpoint.
type Handler struct {
	hub      Hub
	upgrader ws.Upgrader
	limits   *ConnectionLimits
	metrics  *metrics.WebSocketMetrics
	clock    clockwork.Clock
}

// NewHandler creates the endpoint handler. m may be nil.
func NewHandler(hub Hub, limits *ConnectionLimits, checkOrigin func(*http.Request) bool, m *metrics.WebSocketMetrics, clock clockwork.Clock) *Handler {
	return &Handler{
		hub: hub,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		limits:  limits,
		metrics: m,
		clock:   clock,
	}
}

// Handle upgrades the request, attaches the connection to the hub and runs the
// read pump until the peer goes away. Incoming messages are discarded.
func (h *Handler) Handle(c echo.Context) error {
	ctx := c.Request().Context()
	ip := c.RealIP()

	if ok, reason := h.limits.Acquire(ip); !ok {
		h.recordRejection(string(reason))
		slog.WarnContext(ctx, "WebSocket connection rejected", "reason", reason, "ip", ip)
		if reason == LimitReasonGlobal {
			return apperrors.UnavailableError("server at connection capacity", nil)
		}
		return apperrors.RateLimitedError("too many connections").WithField("reason", string(reason))
	}
	defer h.limits.Release(ip)

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		slog.DebugContext(ctx, "WebSocket upgrade failed", "ip", ip, "error", err)
		return nil
	}

	handle, err := h.hub.Attach(conn)
	if err != nil {
		h.recordRejection(rejectShuttingDown)
		msg := ws.FormatCloseMessage(ws.CloseGoingAway, "Server shutting down")
		_ = conn.WriteControl(ws.CloseMessage, msg, h.clock.Now().Add(closeTimeout))
		_ = conn.Close()
		if !errors.Is(err, broadcast.ErrHubStopped) {
			slog.ErrorContext(ctx, "Failed to attach WebSocket client", "error", err)
		}
		return nil
	}
	defer h.hub.Detach(handle)

	slog.DebugContext(ctx, "WebSocket client connected", "client_id", handle.String(), "ip", ip)
	h.readPump(conn)
	slog.DebugContext(ctx, "WebSocket client disconnected", "client_id", handle.String())
	return nil
}

func (h *Handler) readPump(conn *ws.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(h.clock.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(h.clock.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway, ws.CloseNoStatusReceived) {
				slog.Debug("WebSocket read error", "error", err)
			}
			return
		}
	}
}

func (h *Handler) recordRejection(reason string) {
	if h.metrics != nil {
		h.metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
	}
}
