package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Alert lifecycle metrics
	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_fired_total",
			Help: "Total number of alerts created by rule and severity",
		},
		[]string{"rule", "severity"},
	)

	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_suppressed_total",
			Help: "Total number of rule firings suppressed by reason",
		},
		[]string{"reason"}, // duplicate_within_cooldown, evaluation_error, etc.
	)

	AlertsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_delivered_total",
			Help: "Total number of successful channel deliveries",
		},
		[]string{"channel"},
	)

	DeliveryFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alert_delivery_failures_total",
			Help: "Total number of failed channel deliveries by error code",
		},
		[]string{"channel", "code"},
	)

	DeliveryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_alert_delivery_duration_seconds",
			Help:    "Duration of one channel delivery attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"channel"},
	)

	// Pipeline throughput metrics
	EventsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_pipeline_events_processed_total",
			Help: "Total number of events run through the alert pipeline",
		},
	)

	PipelineActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_pipeline_active",
			Help: "Number of pipeline passes currently in flight",
		},
	)

	UndeliveredAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_undelivered_alerts",
			Help: "Number of PENDING alerts awaiting delivery at the last reaper pass",
		},
	)
)

// RecordAlertFired records a newly created alert.
func RecordAlertFired(rule, severity string) {
	AlertsFiredTotal.WithLabelValues(rule, severity).Inc()
}

// RecordAlertSuppressed records a rule firing that produced no alert.
func RecordAlertSuppressed(reason string) {
	AlertsSuppressedTotal.WithLabelValues(reason).Inc()
}

// RecordDelivery records one channel delivery attempt.
func RecordDelivery(channel string, success bool, code string, seconds float64) {
	if success {
		AlertsDeliveredTotal.WithLabelValues(channel).Inc()
	} else {
		DeliveryFailuresTotal.WithLabelValues(channel, code).Inc()
	}
	DeliveryDurationSeconds.WithLabelValues(channel).Observe(seconds)
}

// RecordEventProcessed counts one pipeline pass.
func RecordEventProcessed() {
	EventsProcessedTotal.Inc()
}

// PipelinePassStarted marks a pass in flight.
func PipelinePassStarted() {
	PipelineActive.Inc()
}

// PipelinePassFinished marks a pass complete.
func PipelinePassFinished() {
	PipelineActive.Dec()
}

// SetUndeliveredCount publishes the reaper's view of the PENDING backlog.
func SetUndeliveredCount(n int) {
	UndeliveredAlerts.Set(float64(n))
}
