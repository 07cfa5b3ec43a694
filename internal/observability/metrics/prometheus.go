// Package metrics provides Prometheus metrics for the intake services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	RemindersScheduled    prometheus.Counter
	DosesTaken            prometheus.Counter
	DosesMissed           prometheus.Counter
	DosesSnoozed          prometheus.Counter
	DosesSkipped          prometheus.Counter
	SweepDuration         prometheus.Histogram
	ReconcileDuration     prometheus.Histogram
	NotificationsRepaired prometheus.Counter
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		RemindersScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_reminders_scheduled_total",
			Help: "Total intake reminders created by schedule expansion",
		}),
		DosesTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_doses_taken_total",
			Help: "Total doses marked taken",
		}),
		DosesMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_doses_missed_total",
			Help: "Total doses escalated to missed by the sweep",
		}),
		DosesSnoozed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_doses_snoozed_total",
			Help: "Total snooze operations applied",
		}),
		DosesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_doses_skipped_total",
			Help: "Total doses skipped",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_sweep_duration_seconds",
			Help:    "Missed-dose sweep run duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_reconcile_duration_seconds",
			Help:    "Notification reconciliation run duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		NotificationsRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_notifications_repaired_total",
			Help: "Total device notifications rescheduled by reconciliation",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.RemindersScheduled,
		m.DosesTaken,
		m.DosesMissed,
		m.DosesSnoozed,
		m.DosesSkipped,
		m.SweepDuration,
		m.ReconcileDuration,
		m.NotificationsRepaired,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
