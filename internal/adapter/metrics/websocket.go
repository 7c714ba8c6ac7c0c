package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reasons a connection was removed, used as the "reason" label.
const (
	ReasonClientClosed = "client_closed"
	ReasonWriteFailed  = "write_failed"
	ReasonQueueFull    = "queue_full"
	ReasonHeartbeat    = "heartbeat_timeout"
	ReasonRoomClosed   = "room_closed"
	ReasonShutdown     = "shutdown"
	ReasonPollNotFound = "poll_not_found"
)

// WebSocketMetrics holds Prometheus metrics for WebSocket connections and rooms.
type WebSocketMetrics struct {
	ActiveConnections prometheus.Gauge
	Rooms             prometheus.Gauge
	Subscriptions     *prometheus.CounterVec
	MessagesEnqueued  prometheus.Counter
	Disconnects       *prometheus.CounterVec
	Rejected          *prometheus.CounterVec
	Pings             prometheus.Counter
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of open WebSocket connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rooms",
			Help:      "Number of rooms with at least one subscriber.",
		}),
		Subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "subscriptions_total",
			Help:      "Total number of room subscriptions, by room kind.",
		}, []string{"kind"}),
		MessagesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_enqueued_total",
			Help:      "Total number of messages queued for delivery.",
		}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "disconnects_total",
			Help:      "Total number of closed connections, by reason.",
		}, []string{"reason"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejected_total",
			Help:      "Total number of refused WebSocket upgrades, by limit.",
		}, []string{"limit"}),
		Pings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "heartbeat_pings_total",
			Help:      "Total number of heartbeat pings queued.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.Rooms, m.Subscriptions, m.MessagesEnqueued, m.Disconnects, m.Rejected, m.Pings)
	return m
}
