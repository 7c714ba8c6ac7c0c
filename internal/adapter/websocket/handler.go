// Package websocket upgrades HTTP requests into broadcaster connections.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pscheid92/livepoll/internal/adapter/metrics"
	"github.com/pscheid92/livepoll/internal/broadcast"
	"github.com/pscheid92/livepoll/internal/domain"
	apperrors "github.com/pscheid92/livepoll/internal/platform/errors"
)

const maxMessageSize = 4096

// Resyncer sends a poll's current state to one connection.
type Resyncer interface {
	Resync(ctx context.Context, connID uuid.UUID, pollID string) error
}

// Handler serves WebSocket subscriptions for the lobby and poll rooms.
type Handler struct {
	broadcaster *broadcast.Broadcaster
	resyncer    Resyncer
	limits      *ConnectionLimits
	upgrader    websocket.Upgrader
	metrics     *metrics.WebSocketMetrics
	pong        []byte
}

// NewHandler creates a Handler. resyncer, limits and wsMetrics may be nil.
func NewHandler(b *broadcast.Broadcaster, resyncer Resyncer, limits *ConnectionLimits, checkOrigin func(*http.Request) bool, wsMetrics *metrics.WebSocketMetrics) *Handler {
	pong, _ := json.Marshal(domain.PongMessage{Type: domain.MessagePong})
	return &Handler{
		broadcaster: b,
		resyncer:    resyncer,
		limits:      limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		metrics: wsMetrics,
		pong:    pong,
	}
}

// Limits returns the admission limits, or nil when none are configured.
func (h *Handler) Limits() *ConnectionLimits { return h.limits }

// Serve upgrades the request and subscribes the connection to room. It blocks
// until the connection ends. A refused admission is returned as an error
// before anything is written; after the upgrade Serve always returns nil.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, clientIP string, room domain.RoomKey) error {
	if h.limits != nil {
		ok, reason := h.limits.Acquire(clientIP)
		if !ok {
			if h.metrics != nil {
				h.metrics.Rejected.WithLabelValues(string(reason)).Inc()
			}
			slog.Warn("WebSocket connection refused", "remote_addr", clientIP, "limit", reason)
			return apperrors.RateLimitedError("too many connections").WithField("limit", string(reason))
		}
		defer h.limits.Release(clientIP)
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		slog.Debug("WebSocket upgrade failed", "remote_addr", clientIP, "error", err)
		return nil
	}
	ws.SetReadLimit(maxMessageSize)

	conn, err := h.broadcaster.Open(ws, clientIP)
	if err != nil {
		closeRefused(ws, err)
		return nil
	}
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		return nil
	})

	if err := h.broadcaster.Subscribe(conn, room); err != nil {
		slog.Debug("Subscribe failed", "connection_id", conn.ID().String(), "room", room.String(), "error", err)
		h.broadcaster.Disconnect(conn, metrics.ReasonClientClosed)
		return nil
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if pollID, ok := room.PollID(); ok && h.resyncer != nil {
		go h.resync(ctx, conn, pollID)
	}

	h.readLoop(ws, conn)
	h.broadcaster.Disconnect(conn, metrics.ReasonClientClosed)
	return nil
}

func (h *Handler) resync(ctx context.Context, conn *broadcast.Connection, pollID string) {
	err := h.resyncer.Resync(ctx, conn.ID(), pollID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPollNotFound):
		slog.Info("Poll not found, closing subscription", "connection_id", conn.ID().String(), "poll_id", pollID)
		h.broadcaster.Close(conn, metrics.ReasonPollNotFound, websocket.CloseNormalClosure, "poll not found")
	case errors.Is(err, domain.ErrSnapshotMissing):
		slog.Debug("No snapshot available", "connection_id", conn.ID().String(), "poll_id", pollID)
	case errors.Is(err, domain.ErrConnectionUnknown), errors.Is(err, domain.ErrConnectionClosed), errors.Is(err, context.Canceled):
	default:
		slog.Warn("Snapshot resync failed", "connection_id", conn.ID().String(), "poll_id", pollID, "error", err)
	}
}

// readLoop consumes client frames until the socket fails. Any frame counts as
// liveness; ping requests are answered through the connection's queue.
func (h *Handler) readLoop(ws *websocket.Conn, conn *broadcast.Connection) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.Debug("WebSocket read failed", "connection_id", conn.ID().String(), "error", err)
			}
			return
		}
		conn.Touch()

		var msg domain.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed client message", "connection_id", conn.ID().String(), "error", err)
			continue
		}

		switch msg.Type {
		case domain.MessagePing:
			if err := h.broadcaster.Send(conn.ID(), h.pong); err != nil {
				slog.Debug("Failed to queue pong", "connection_id", conn.ID().String(), "error", err)
			}
		default:
			slog.Debug("Ignoring unknown client message", "connection_id", conn.ID().String(), "type", msg.Type)
		}
	}
}

func closeRefused(ws *websocket.Conn, cause error) {
	text := "server shutting down"
	if !errors.Is(cause, domain.ErrShuttingDown) {
		text = fmt.Sprintf("connection refused: %v", cause)
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, text))
	_ = ws.Close()
}
