package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BackendOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_backend_ops_total",
			Help: "Store operations by backend, operation and outcome",
		},
		[]string{"backend", "op", "outcome"}, // sheets|relational , create|list|... , ok|error|skipped
	)

	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_fallbacks_total",
			Help: "Operations retried on a secondary backend",
		},
		[]string{"op"},
	)

	ActivityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_activity_events_total",
			Help: "Activity events by pipeline stage",
		},
		[]string{"stage"}, // published|publish_failed|stored|dropped
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		BackendOpsTotal,
		FallbacksTotal,
		ActivityEventsTotal,
	)
}
