package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit publisher.
// All methods are safe on a nil receiver.
type Metrics struct {
	QueueDepth      prometheus.Gauge
	EventsDropped   prometheus.Counter
	EventsEnqueued  prometheus.Counter
	PersistDuration prometheus.Histogram
	PersistFailures prometheus.Counter
	EventsProcessed prometheus.Counter
}

// New registers the audit publisher metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warden_audit_queue_depth",
			Help: "Current number of events in the audit publisher queue",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_events_dropped_total",
			Help: "Total number of audit events dropped due to full buffer",
		}),
		EventsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_events_enqueued_total",
			Help: "Total number of audit events successfully enqueued",
		}),
		PersistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_audit_persist_duration_seconds",
			Help:    "Time taken to hand an audit event to the sink",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_persist_failures_total",
			Help: "Total number of audit events the sink rejected",
		}),
		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_events_processed_total",
			Help: "Total number of audit events delivered to the sink",
		}),
	}
}

func (m *Metrics) IncQueueDepth() {
	if m == nil {
		return
	}
	m.QueueDepth.Inc()
}

func (m *Metrics) DecQueueDepth() {
	if m == nil {
		return
	}
	m.QueueDepth.Dec()
}

func (m *Metrics) IncEventsDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) IncEventsEnqueued() {
	if m == nil {
		return
	}
	m.EventsEnqueued.Inc()
}

// ObservePersist records one sink call and its outcome.
func (m *Metrics) ObservePersist(durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.PersistDuration.Observe(durationSeconds)
	if err != nil {
		m.PersistFailures.Inc()
		return
	}
	m.EventsProcessed.Inc()
}
