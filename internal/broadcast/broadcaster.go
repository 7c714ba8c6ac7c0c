package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/adapter/metrics"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/platform/keylock"
)

// Config tunes per-connection buffering.
type Config struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Broadcaster owns every open connection and delivers messages to rooms.
// Broadcasts to one room are serialized so each member sees them in call order.
type Broadcaster struct {
	registry *Registry
	locks    *keylock.Striped
	clock    clockwork.Clock
	cfg      Config
	metrics  *metrics.WebSocketMetrics

	mu       sync.Mutex
	conns    map[uuid.UUID]*Connection
	stopping bool
}

// NewBroadcaster creates a broadcaster over registry. wsMetrics may be nil.
func NewBroadcaster(registry *Registry, clock clockwork.Clock, cfg Config, wsMetrics *metrics.WebSocketMetrics) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		locks:    keylock.New(keylock.DefaultStripes),
		clock:    clock,
		cfg:      cfg,
		metrics:  wsMetrics,
		conns:    make(map[uuid.UUID]*Connection),
	}
}

func (b *Broadcaster) Registry() *Registry { return b.registry }

// Open wraps transport in a Connection and starts its writer.
func (b *Broadcaster) Open(transport Transport, remoteAddr string) (*Connection, error) {
	conn := newConnection(transport, ConnectionOptions{
		RemoteAddr:   remoteAddr,
		QueueSize:    b.cfg.QueueSize,
		WriteTimeout: b.cfg.WriteTimeout,
		Clock:        b.clock,
	})
	conn.onWriteError = func(c *Connection, err error) {
		slog.Debug("Write failed, dropping connection", "connection_id", c.id.String(), "error", err)
		b.drop(c, metrics.ReasonWriteFailed, nil, true)
	}

	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return nil, domain.ErrShuttingDown
	}
	b.conns[conn.id] = conn
	b.mu.Unlock()

	conn.start()
	if b.metrics != nil {
		b.metrics.ActiveConnections.Inc()
	}
	return conn, nil
}

// Subscribe moves conn into room and announces the new counts of both rooms.
func (b *Broadcaster) Subscribe(conn *Connection, room domain.RoomKey) error {
	previous, switched, err := b.registry.Subscribe(conn, room)
	if err != nil {
		return err
	}

	if b.metrics != nil {
		kind := "poll"
		if room.IsLobby() {
			kind = "lobby"
		}
		b.metrics.Subscriptions.WithLabelValues(kind).Inc()
		b.metrics.Rooms.Set(float64(b.registry.Rooms()))
	}

	if switched {
		b.announceCount(previous)
	}
	b.announceCount(room)
	return nil
}

// Broadcast queues msg for every current member of room and returns how many
// accepted it. Members that cannot take it are dropped afterwards.
func (b *Broadcaster) Broadcast(room domain.RoomKey, msg []byte) int {
	unlock := b.locks.Lock(string(room))
	delivered, failed := b.broadcastLocked(room, msg)
	unlock()

	b.evict(failed)
	return delivered
}

func (b *Broadcaster) broadcastLocked(room domain.RoomKey, msg []byte) (int, []*Connection) {
	var failed []*Connection
	delivered := 0

	for _, conn := range b.registry.Members(room) {
		if err := conn.Enqueue(msg); err != nil {
			failed = append(failed, conn)
			continue
		}
		delivered++
	}

	if b.metrics != nil {
		b.metrics.MessagesEnqueued.Add(float64(delivered))
	}
	return delivered, failed
}

func (b *Broadcaster) evict(failed []*Connection) {
	for _, conn := range failed {
		slog.Warn("Disconnecting slow client", "connection_id", conn.id.String(), "remote_addr", conn.remoteAddr)
		b.drop(conn, metrics.ReasonQueueFull, nil, true)
	}
}

// Send queues msg for a single connection.
func (b *Broadcaster) Send(connID uuid.UUID, msg []byte) error {
	conn, ok := b.Lookup(connID)
	if !ok {
		return domain.ErrConnectionUnknown
	}

	err := conn.Enqueue(msg)
	if errors.Is(err, domain.ErrQueueFull) {
		b.evict([]*Connection{conn})
	}
	if err == nil && b.metrics != nil {
		b.metrics.MessagesEnqueued.Inc()
	}
	return err
}

// Lookup finds an open connection by id.
func (b *Broadcaster) Lookup(id uuid.UUID) (*Connection, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn, ok := b.conns[id]
	return conn, ok
}

// CloseRoom queues notice (if any) for every member of room and then closes
// them with a normal closure.
func (b *Broadcaster) CloseRoom(room domain.RoomKey, notice []byte, reason string) int {
	unlock := b.locks.Lock(string(room))
	members := b.registry.Members(room)
	for _, conn := range members {
		if notice != nil {
			_ = conn.Enqueue(notice)
		}
	}
	unlock()

	frame := &closeFrame{code: websocket.CloseNormalClosure, reason: reason}
	for _, conn := range members {
		b.drop(conn, metrics.ReasonRoomClosed, frame, false)
	}
	return len(members)
}

// Disconnect drops conn without a close frame. The client sees an abnormal
// closure and reconnects.
func (b *Broadcaster) Disconnect(conn *Connection, reason string) {
	b.drop(conn, reason, nil, true)
}

// Close flushes conn's queue and closes it with code and text.
func (b *Broadcaster) Close(conn *Connection, reason string, code int, text string) {
	b.drop(conn, reason, &closeFrame{code: code, reason: text}, true)
}

func (b *Broadcaster) drop(conn *Connection, reason string, frame *closeFrame, announce bool) {
	if !conn.beginClose() {
		return
	}

	room, subscribed := b.registry.Unsubscribe(conn)
	if frame != nil {
		conn.close(frame.code, frame.reason)
	} else {
		conn.abort()
	}

	b.mu.Lock()
	delete(b.conns, conn.id)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.ActiveConnections.Dec()
		b.metrics.Disconnects.WithLabelValues(reason).Inc()
		b.metrics.Rooms.Set(float64(b.registry.Rooms()))
	}
	slog.Debug("Connection closed", "connection_id", conn.id.String(), "reason", reason, "room", room.String())

	if subscribed && announce {
		b.announceCount(room)
	}
}

// announceCount tells the room's members how many they are. The count is
// taken under the room lock so it matches the members it is sent to.
func (b *Broadcaster) announceCount(room domain.RoomKey) {
	unlock := b.locks.Lock(string(room))
	count := b.registry.Count(room)
	if count == 0 {
		unlock()
		return
	}

	msg, err := json.Marshal(domain.ConnectionCountMessage{Type: domain.MessageConnectionCount, Count: count})
	if err != nil {
		unlock()
		slog.Error("Failed to marshal connection count", "error", err)
		return
	}
	_, failed := b.broadcastLocked(room, msg)
	unlock()

	b.evict(failed)
}

// Connections returns a snapshot of all open connections.
func (b *Broadcaster) Connections() []*Connection {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Connection, 0, len(b.conns))
	for _, c := range b.conns {
		out = append(out, c)
	}
	return out
}

// Stats reports open connections and room membership.
type Stats struct {
	Connections int           `json:"connections"`
	Registry    RegistryStats `json:"registry"`
}

func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	open := len(b.conns)
	b.mu.Unlock()
	return Stats{Connections: open, Registry: b.registry.Stats()}
}

// Stop refuses new connections, closes every open one with 1000 and waits for
// their writers to finish or ctx to expire.
func (b *Broadcaster) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.stopping = true
	b.mu.Unlock()

	conns := b.Connections()
	frame := &closeFrame{code: websocket.CloseNormalClosure, reason: "server shutting down"}
	for _, conn := range conns {
		b.drop(conn, metrics.ReasonShutdown, frame, false)
	}

	for _, conn := range conns {
		select {
		case <-conn.Stopped():
		case <-ctx.Done():
			slog.Warn("Broadcaster stop timeout exceeded", "pending", len(conns))
			return ctx.Err()
		}
	}
	slog.Info("Broadcaster stopped gracefully", "closed_connections", len(conns))
	return nil
}
