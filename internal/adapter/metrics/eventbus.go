package metrics

import "github.com/prometheus/client_golang/prometheus"

// EventBusMetrics holds Prometheus metrics for the cross-instance event bus.
type EventBusMetrics struct {
	Published *prometheus.CounterVec
	Received  *prometheus.CounterVec
}

// NewEventBusMetrics creates and registers event bus metrics on the given registry.
func NewEventBusMetrics(reg prometheus.Registerer) *EventBusMetrics {
	m := &EventBusMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event_bus",
			Name:      "published_total",
			Help:      "Total number of events published to the bus, by result.",
		}, []string{"result"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event_bus",
			Name:      "received_total",
			Help:      "Total number of bus messages received, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.Published, m.Received)
	return m
}
