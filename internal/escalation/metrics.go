package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the escalation metrics.
type Metrics struct {
	SweepsTotal      prometheus.Counter
	SweepsFailed     prometheus.Counter
	SweepDuration    prometheus.Histogram
	ScheduleOutcomes *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	Calls            *prometheus.CounterVec
}

// NewMetrics creates the escalation metrics and registers them on reg.
// A nil reg leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SweepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medassist",
			Subsystem: "escalation",
			Name:      "sweeps_total",
			Help:      "Total number of escalation sweeps run",
		}),
		SweepsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medassist",
			Subsystem: "escalation",
			Name:      "sweeps_failed_total",
			Help:      "Sweeps that could not load schedules",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medassist",
			Subsystem: "escalation",
			Name:      "sweep_duration_seconds",
			Help:      "Time spent in one sweep",
			Buckets:   prometheus.DefBuckets,
		}),
		ScheduleOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medassist",
			Subsystem: "escalation",
			Name:      "schedule_outcomes_total",
			Help:      "Per-schedule sweep outcomes by state",
		}, []string{"state"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medassist",
			Subsystem: "escalation",
			Name:      "notifications_total",
			Help:      "Notification attempts by event type and outcome",
		}, []string{"event_type", "outcome"}),
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medassist",
			Subsystem: "escalation",
			Name:      "caretaker_calls_total",
			Help:      "Caretaker call attempts by provider status",
		}, []string{"status"}),
	}
}
