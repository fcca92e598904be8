package payments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobPayments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "job_payments_total",
		Help:      "Job payment attempts by outcome.",
	}, []string{"outcome"})

	withdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "withdrawals_total",
		Help:      "Withdrawal requests by outcome.",
	}, []string{"outcome"})

	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "webhook_events_total",
		Help:      "Ledger webhook events by type and outcome.",
	}, []string{"type", "outcome"})

	reconcileObjects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "reconcile_objects_total",
		Help:      "Ledger objects visited by the reconciliation sweep.",
	}, []string{"kind", "outcome"})
)

// outcome turns an operation error into a metric label.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	pe, ok := AsError(err)
	if !ok {
		return "error"
	}
	switch pe.Kind {
	case ErrValidation:
		return "invalid"
	case ErrUnauthenticated, ErrForbidden:
		return "denied"
	case ErrNotFound:
		return "not_found"
	case ErrPrecheckFailed:
		return "precheck_failed"
	case ErrUpstream:
		return "upstream_error"
	default:
		return "error"
	}
}
