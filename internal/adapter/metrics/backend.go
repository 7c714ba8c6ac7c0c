package metrics

import "github.com/prometheus/client_golang/prometheus"

// BackendMetrics holds Prometheus metrics for calls to the polling backend.
type BackendMetrics struct {
	Requests     *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	CircuitState prometheus.Gauge
}

// NewBackendMetrics creates and registers backend client metrics on the given registry.
func NewBackendMetrics(reg prometheus.Registerer) *BackendMetrics {
	m := &BackendMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Total number of backend requests, by operation and result.",
		}, []string{"operation", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Duration of backend requests in seconds, including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		CircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "circuit_breaker_state",
			Help:      "Backend circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	reg.MustRegister(m.Requests, m.Duration, m.CircuitState)
	return m
}
