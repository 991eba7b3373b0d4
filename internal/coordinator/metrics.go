package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// prometheusNamespace is the namespace of all coordinator metrics
	prometheusNamespace = "tcpdoctor"
	// kindLabel distinguishes what kind of asynchronous result was dropped
	kindLabel = "kind"
)

type metrics struct {
	// ticks counts live fetches issued by the poller
	ticks prometheus.Counter
	// fetchFailures counts live fetches that returned an error
	fetchFailures prometheus.Counter
	// staleDropped counts asynchronous results discarded by the generation guard
	staleDropped *prometheus.CounterVec
	// snapshots counts snapshots appended to the active recording
	snapshots prometheus.Counter
	// historical is 1 while a recorded session is displayed
	historical prometheus.Gauge
	// connections is the size of the unfiltered active list
	connections prometheus.Gauge
}

func registerMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      "poll_ticks_total",
			Help:      "Number of live fetches issued by the poller.",
		}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      "fetch_failures_total",
			Help:      "Number of live fetches that failed.",
		}),
		staleDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      "stale_results_dropped_total",
			Help:      "Number of asynchronous results discarded after a mode change.",
		}, []string{kindLabel}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      "snapshots_recorded_total",
			Help:      "Number of snapshots appended to the active recording.",
		}),
		historical: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "historical_mode",
			Help:      "1 while a recorded session is displayed, 0 in live mode.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "active_connections",
			Help:      "Number of connections in the active list before filtering.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.ticks)
		reg.MustRegister(m.fetchFailures)
		reg.MustRegister(m.staleDropped)
		reg.MustRegister(m.snapshots)
		reg.MustRegister(m.historical)
		reg.MustRegister(m.connections)
	}
	return m
}
