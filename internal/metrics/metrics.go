package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "schedule_live"

// Metrics holds the Prometheus instruments for the live update service.
type Metrics struct {
	ActiveConnections   prometheus.Gauge
	ActiveTenants       prometheus.Gauge
	EventsEnqueued      *prometheus.CounterVec
	EventsDropped       prometheus.Counter
	BatchesFlushed      prometheus.Counter
	BatchSize           prometheus.Histogram
	DeliveryFailures    prometheus.Counter
	Evictions           prometheus.Counter
	HandshakeRejections *prometheus.CounterVec
	SnapshotFetches     *prometheus.CounterVec
	InboundIgnored      prometheus.Counter
}

// New creates and registers all instruments on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "active_connections",
			Help:      "Number of registered live connections.",
		}),
		ActiveTenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "active_tenants",
			Help:      "Number of tenants with at least one live connection.",
		}),
		EventsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "events_enqueued_total",
			Help:      "Update events accepted by the batcher, by kind.",
		}, []string{"kind"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "events_without_listeners_total",
			Help:      "Update events flushed for tenants with no live connections.",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "batches_flushed_total",
			Help:      "Per-tenant batch_updates messages built at flush.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "batch_size_events",
			Help:      "Number of events coalesced into one batch_updates message.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "delivery_failures_total",
			Help:      "Batch deliveries that failed for a single connection.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "evictions_total",
			Help:      "Connections evicted by the liveness monitor.",
		}),
		HandshakeRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "handshake_rejections_total",
			Help:      "Rejected connection attempts, by reason.",
		}, []string{"reason"}),
		SnapshotFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "snapshot_fetches_total",
			Help:      "Snapshot fetches from the data collaborator, by result.",
		}, []string{"result"}),
		InboundIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "inbound_ignored_total",
			Help:      "Malformed or unknown client messages that were dropped.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ActiveTenants,
		m.EventsEnqueued,
		m.EventsDropped,
		m.BatchesFlushed,
		m.BatchSize,
		m.DeliveryFailures,
		m.Evictions,
		m.HandshakeRejections,
		m.SnapshotFetches,
		m.InboundIgnored,
	)
	return m
}
