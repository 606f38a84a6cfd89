package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for monitoring the delivery core
var (
	TriggerScansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_trigger_scans_total",
			Help: "Total number of trigger scan cycles executed",
		},
	)

	TriggerScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_trigger_scan_duration_seconds",
			Help:    "Duration of trigger scan cycles",
			Buckets: prometheus.DefBuckets,
		},
	)

	TriggerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_trigger_events_total",
			Help: "Trigger events produced, labeled by subject type and outcome",
		},
		[]string{"subject", "outcome"},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_transitions_total",
			Help: "Successful delivery status transitions by event",
		},
		[]string{"event"},
	)

	TransitionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_transition_rejections_total",
			Help: "Rejected transition requests by rejection kind",
		},
		[]string{"kind"},
	)

	OrdersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_orders_created_total",
			Help: "Delivery orders created, labeled by origin (manual or trigger)",
		},
		[]string{"origin"},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(TriggerScansTotal)
	prometheus.MustRegister(TriggerScanDuration)
	prometheus.MustRegister(TriggerEventsTotal)
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(TransitionRejectionsTotal)
	prometheus.MustRegister(OrdersCreatedTotal)
}
