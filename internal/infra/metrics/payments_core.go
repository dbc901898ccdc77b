package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsInitiatedTotal,
		entitlementChangesTotal,
		entitlementReconciledTotal,
	)
}

var (
	subscriptionsInitiatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_initiated_total",
			Help: "Signed redirect requests issued, by plan and result.",
		},
		[]string{"plan", "result"}, // result: ok|config_error|persistence_error|rate_limited|invalid
	)

	entitlementChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_changes_total",
			Help: "Premium flag flips, by new value.",
		},
		[]string{"premium"},
	)

	entitlementReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_reconciled_total",
			Help: "Premium flags repaired by the reconciler.",
		},
	)
)

func IncSubscriptionInitiated(plan, result string) {
	subscriptionsInitiatedTotal.WithLabelValues(norm(plan), norm(result)).Inc()
}

func IncEntitlementChange(premium bool) {
	v := "false"
	if premium {
		v = "true"
	}
	entitlementChangesTotal.WithLabelValues(v).Inc()
}

func AddEntitlementReconciled(n int) {
	entitlementReconciledTotal.Add(float64(n))
}
