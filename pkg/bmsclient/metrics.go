package bmsclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks challenge cycles. Register it with a Prometheus registry via
// WithMetricsRegisterer; unregistered metrics are still counted.
type Metrics struct {
	cycles   *prometheus.CounterVec
	awaiting *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

// NewMetrics builds the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bmsclient",
				Subsystem: "challenge",
				Name:      "cycles_total",
				Help:      "Total number of resolved challenge cycles by realm and outcome",
			},
			[]string{"realm", "outcome"},
		),
		awaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "bmsclient",
				Subsystem: "challenge",
				Name:      "awaiting_listener",
				Help:      "Challenge cycles currently waiting on the listener",
			},
			[]string{"realm"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bmsclient",
				Subsystem: "challenge",
				Name:      "cycle_duration_seconds",
				Help:      "Time from challenge to resolution in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20, 60},
			},
			[]string{"realm"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.cycles, m.awaiting, m.duration)
	}

	return m
}

func (m *Metrics) begin(realm string) {
	m.awaiting.WithLabelValues(realm).Inc()
}

func (m *Metrics) resolve(realm string, outcome Outcome, elapsed time.Duration) {
	m.awaiting.WithLabelValues(realm).Dec()
	m.cycles.WithLabelValues(realm, outcome.String()).Inc()
	m.duration.WithLabelValues(realm).Observe(elapsed.Seconds())
}

// queueTimeout counts a request that gave up before its cycle started.
func (m *Metrics) queueTimeout(realm string) {
	m.cycles.WithLabelValues(realm, "queue_timeout").Inc()
}
