package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "payments",
	Subsystem: "ledger",
	Name:      "request_duration_seconds",
	Help:      "Latency of ledger API calls by operation and response status.",
	Buckets:   prometheus.DefBuckets,
}, []string{"operation", "status"})
