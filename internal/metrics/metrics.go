package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subwatch_events_enqueued_total",
		Help: "Total number of events placed on the dispatch queue.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subwatch_events_dropped_total",
		Help: "Total number of events rejected due to a full queue.",
	})

	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subwatch_dispatches_total",
		Help: "Total number of dispatches, labelled by outcome.",
	}, []string{"outcome"})

	NotificationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subwatch_notifications_created_total",
		Help: "Total number of notification records created.",
	})

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "subwatch_dispatch_duration_ms",
		Help:    "End-to-end dispatch latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "subwatch_queue_utilization_ratio",
		Help: "Current event queue utilization (0–1).",
	})
)

// Dispatch outcome label values.
const (
	OutcomeDispatched = "dispatched"
	OutcomeEmpty      = "empty"
	OutcomeSuppressed = "suppressed"
	OutcomeNoTarget   = "no_target"
	OutcomeError      = "error"
)
