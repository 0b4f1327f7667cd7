// internal/chatsync/metrics.go

package chatsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_applied_total",
			Help: "Incoming events reconciled into local state",
		},
		[]string{"event"},
	)

	reconcileMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_reconcile_misses_total",
			Help: "Update events that referenced an id not held locally",
		},
		[]string{"event"},
	)

	staleResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_stale_responses_total",
			Help: "Responses or events discarded because newer state was already applied",
		},
		[]string{"source"},
	)

	transportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_transport_errors_total",
			Help: "Failed REST calls and stream emits, by operation",
		},
		[]string{"operation"},
	)
)
