package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		NotificationsTotal,
		RemoteValidationsTotal,
		RemoteValidationDuration,
	)
}

var (
	// Notifications by final outcome.
	// outcome: applied|duplicate|stale|rejected_signature|rejected_validation|rejected_source|
	// rejected_merchant|rejected_unknown_record|rejected_user_mismatch|rejected_malformed|failed_internal
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Inbound processor notifications by outcome.",
		},
		[]string{"outcome"},
	)

	// result: valid|invalid|transport_error|http_error
	RemoteValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_remote_validations_total",
			Help: "Confirmation calls to the processor by result.",
		},
		[]string{"result"},
	)

	RemoteValidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payment_remote_validation_duration_seconds",
			Help:    "Duration of confirmation calls to the processor in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
)

func IncNotification(outcome string) {
	NotificationsTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObserveRemoteValidation(result string, d time.Duration) {
	RemoteValidationsTotal.WithLabelValues(norm(result)).Inc()
	RemoteValidationDuration.Observe(d.Seconds())
}
