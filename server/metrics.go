package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "msgr"

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	delivered       prometheus.Counter
	dropped         *prometheus.CounterVec
	sessionEvents   *prometheus.CounterVec
	ticks           prometheus.Counter
	deliveryLatency prometheus.Histogram
}

func newMetrics(registry *Registry, router *Router) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Decoded requests by action.",
		}, []string{"action"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "rejected_total",
			Help:      "Requests answered with 400, by reason.",
		}, []string{"reason"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "router",
			Name:      "delivered_total",
			Help:      "Messages written to their destination.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "router",
			Name:      "dropped_total",
			Help:      "Messages discarded before delivery, by reason.",
		}, []string{"reason"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "registry",
			Name:      "events_total",
			Help:      "Session registry changes by kind.",
		}, []string{"kind"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "ticks_total",
			Help:      "Completed main loop iterations.",
		}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "router",
			Name:      "delivery_latency_seconds",
			Help:      "Time from enqueue to delivery.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.rejected,
		m.delivered,
		m.dropped,
		m.sessionEvents,
		m.ticks,
		m.deliveryLatency,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "registry",
			Name:      "sessions",
			Help:      "Live sessions.",
		}, func() float64 { return float64(registry.SessionCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "registry",
			Name:      "connections",
			Help:      "Live connections, authenticated or not.",
		}, func() float64 { return float64(registry.ConnCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "router",
			Name:      "queue_depth",
			Help:      "Messages waiting for the outbound phase.",
		}, func() float64 { return float64(router.Len()) }),
	)
	return m
}

// Gatherer exposes the registry for a /metrics handler.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveRegistryEvent counts a session registry change.
func (m *Metrics) ObserveRegistryEvent(ev RegistryEvent) {
	m.sessionEvents.WithLabelValues(ev.Kind.String()).Inc()
}
