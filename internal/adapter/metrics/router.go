package metrics

import "github.com/prometheus/client_golang/prometheus"

// RouterMetrics holds Prometheus metrics for the event routing pipeline.
type RouterMetrics struct {
	EventsRouted    *prometheus.CounterVec
	RoutingDuration *prometheus.HistogramVec
	Recipients      prometheus.Histogram
}

// NewRouterMetrics creates and registers event routing metrics on the given registry.
func NewRouterMetrics(reg prometheus.Registerer) *RouterMetrics {
	m := &RouterMetrics{
		EventsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_routed_total",
			Help:      "Total number of domain events routed, by type and result.",
		}, []string{"type", "result"}),
		RoutingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "events_routing_duration_seconds",
			Help:      "Duration of routing one event to its rooms in seconds.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"type"}),
		Recipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_recipients",
			Help:      "Number of connections a single broadcast was queued for.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	reg.MustRegister(m.EventsRouted, m.RoutingDuration, m.Recipients)
	return m
}
