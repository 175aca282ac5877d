package obs

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/metric"
)

const metricsNamespace = "agentlyformat"

// Metrics holds every counter/gauge the pipeline records, one promauto
// instrument per field, grounded on the teacher's StreamingMetrics
// struct and its Record*-named helper methods.
type Metrics struct {
	EventsEmittedTotal    *prometheus.CounterVec
	RepairsAttemptedTotal *prometheus.CounterVec
	BytesIngestedTotal    prometheus.Counter
	ActiveSessions        prometheus.Gauge

	// repairsCounter mirrors RepairsAttemptedTotal on the OTel metrics
	// API, for any collector-side exporter layered on top of the same
	// MeterProvider later.
	repairsCounter metric.Int64Counter
}

func newMetrics(registry *prometheus.Registry, meter metric.Meter) (*Metrics, error) {
	factory := promauto.With(registry)

	m := &Metrics{
		EventsEmittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "events_emitted_total",
			Help:      "Total DeltaEvents published, by kind.",
		}, []string{"kind"}),

		RepairsAttemptedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "repairs_attempted_total",
			Help:      "Total completion attempts, by strategy and outcome.",
		}, []string{"strategy", "valid"}),

		BytesIngestedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "bytes_ingested_total",
			Help:      "Total raw bytes appended across every session.",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of currently open streaming sessions.",
		}),
	}

	counter, err := meter.Int64Counter("agentlyformat.repairs_attempted",
		metric.WithDescription("Mirrors repairs_attempted_total on the OTel metrics API."))
	if err != nil {
		return nil, err
	}
	m.repairsCounter = counter

	return m, nil
}

// RecordEventEmitted increments the events-emitted counter for kind.
func (m *Metrics) RecordEventEmitted(kind string) {
	m.EventsEmittedTotal.WithLabelValues(kind).Inc()
}

// RecordRepairAttempt increments the repairs-attempted counter and its
// OTel mirror.
func (m *Metrics) RecordRepairAttempt(ctx context.Context, strategy string, valid bool) {
	validLabel := "false"
	if valid {
		validLabel = "true"
	}
	m.RepairsAttemptedTotal.WithLabelValues(strategy, validLabel).Inc()
	m.repairsCounter.Add(ctx, 1)
}

// RecordBytesIngested adds n to the total bytes-ingested counter.
func (m *Metrics) RecordBytesIngested(n int) {
	if n <= 0 {
		return
	}
	m.BytesIngestedTotal.Add(float64(n))
}

// SessionOpened increments the active-sessions gauge.
func (m *Metrics) SessionOpened() { m.ActiveSessions.Inc() }

// SessionClosed decrements the active-sessions gauge.
func (m *Metrics) SessionClosed() { m.ActiveSessions.Dec() }
