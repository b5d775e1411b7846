// Package metrics exposes the bridge's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bridge"

var (
	OperationsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_opened_total",
			Help:      "Bridge operations admitted, by direction",
		},
		[]string{"direction"},
	)

	OperationsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_resolved_total",
			Help:      "Bridge operations resolved, by direction and final status",
		},
		[]string{"direction", "status"},
	)

	AdmissionRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejected_total",
			Help:      "bridgeOut/bridgeIn calls rejected, by error kind",
		},
		[]string{"kind"},
	)

	RouteSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_selections_total",
			Help:      "Backend selections made by the service router",
		},
		[]string{"backend", "chain"},
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound backend messages, by backend and result",
		},
		[]string{"backend", "result"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent handing an operation to its backend",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"backend", "result"},
	)
)
