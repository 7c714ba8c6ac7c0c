package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/adapter/metrics"
)

// HeartbeatMonitor pings every open connection on a fixed interval and drops
// the ones that have been silent for longer than the grace period.
type HeartbeatMonitor struct {
	broadcaster *Broadcaster
	clock       clockwork.Clock
	interval    time.Duration
	grace       time.Duration
	metrics     *metrics.WebSocketMetrics
}

func NewHeartbeatMonitor(b *Broadcaster, clock clockwork.Clock, interval, grace time.Duration, wsMetrics *metrics.WebSocketMetrics) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		broadcaster: b,
		clock:       clock,
		interval:    interval,
		grace:       grace,
		metrics:     wsMetrics,
	}
}

// Run sweeps until ctx is cancelled.
func (h *HeartbeatMonitor) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.sweep()
		}
	}
}

func (h *HeartbeatMonitor) sweep() (pinged, evicted int) {
	now := h.clock.Now()

	for _, conn := range h.broadcaster.Connections() {
		if conn.isClosing() {
			continue
		}

		if silence := now.Sub(conn.LastSeen()); silence > h.grace {
			slog.Info("Heartbeat timeout, dropping connection",
				"connection_id", conn.ID().String(),
				"silence", silence,
			)
			h.broadcaster.Disconnect(conn, metrics.ReasonHeartbeat)
			evicted++
			continue
		}

		conn.Ping()
		pinged++
	}

	if h.metrics != nil {
		h.metrics.Pings.Add(float64(pinged))
	}
	if evicted > 0 {
		slog.Debug("Heartbeat sweep finished", "pinged", pinged, "evicted", evicted)
	}
	return pinged, evicted
}
