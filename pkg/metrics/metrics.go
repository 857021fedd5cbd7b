package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispatch cycle metrics
	CyclesTotal        prometheus.Counter
	CycleDuration      prometheus.Histogram
	RemindersScanned   prometheus.Counter
	RemindersSent      prometheus.Counter
	RemindersFailed    prometheus.Counter
	RemindersReclaimed prometheus.Counter

	// Per-recipient delivery metrics
	Deliveries         *prometheus.CounterVec
	DeliveryDuration   prometheus.Histogram
	DeliveriesInFlight prometheus.Gauge

	// Database metrics
	DatabaseOperations *prometheus.CounterVec

	// Push transport metrics
	PushPublishes *prometheus.CounterVec
}

// NewMetrics creates all application metrics registered on the
// default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the metrics on an explicit registerer;
// tests pass a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_cycles_total",
			Help:      "Total number of scan-and-dispatch cycles run",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_cycle_duration_seconds",
			Help:      "Time spent running one dispatch cycle",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		RemindersScanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_scanned_total",
			Help:      "Total number of due reminders returned by scans",
		}),
		RemindersSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Total number of reminders marked sent",
		}),
		RemindersFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_failed_total",
			Help:      "Total number of reminders marked failed for retry",
		}),
		RemindersReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_reclaimed_total",
			Help:      "Total number of stale sending leases reclaimed",
		}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of per-recipient delivery attempts",
		}, []string{"outcome"}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of per-recipient delivery attempts",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		DeliveriesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deliveries_in_flight",
			Help:      "Current number of in-flight delivery attempts",
		}),
		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		PushPublishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_publishes_total",
			Help:      "Total number of push transport publishes",
		}, []string{"status"}),
	}
}
