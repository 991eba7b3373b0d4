package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	prometheusNamespace = "tcpdoctor"
	prometheusSubsystem = "daemon"
)

// serverMetrics tracks daemon statistics
type serverMetrics struct {
	requests       *prometheus.CounterVec
	failures       prometheus.Counter
	clients        prometheus.Gauge
	served         prometheus.Counter
	collectSeconds prometheus.Histogram
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Subsystem: prometheusSubsystem,
			Name:      "requests_total",
			Help:      "Number of requests received from dashboards, by type.",
		}, []string{"type"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Subsystem: prometheusSubsystem,
			Name:      "collection_failures_total",
			Help:      "Number of connection table collections that failed.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Subsystem: prometheusSubsystem,
			Name:      "connected_clients",
			Help:      "Number of connected dashboards.",
		}),
		served: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Subsystem: prometheusSubsystem,
			Name:      "connections_served_total",
			Help:      "Number of connection records sent to dashboards.",
		}),
		collectSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Subsystem: prometheusSubsystem,
			Name:      "collection_duration_seconds",
			Help:      "Time spent reading the connection table.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.failures, m.clients, m.served, m.collectSeconds)
	}
	return m
}
