package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	reasonCancelled = "cancelled"
	reasonOwner     = "owner"
	reasonCompleted = "completed"
	reasonExhausted = "exhausted"
	reasonInvalid   = "invalid"
)

type metrics struct {
	added          *prometheus.CounterVec
	fired          *prometheus.CounterVec
	presenterErrs  prometheus.Counter
	removed        *prometheus.CounterVec
	pending        prometheus.Gauge
	armedTimestamp prometheus.Gauge
	storeErrs      *prometheus.CounterVec
}

// newMetrics creates the collectors and registers them on reg when non-nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		added: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pushbridge_schedules_added_total",
			Help: "Schedules accepted, by kind.",
		}, []string{"kind"}),
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pushbridge_schedules_fired_total",
			Help: "Schedule occurrences fired, by kind.",
		}, []string{"kind"}),
		presenterErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pushbridge_presenter_errors_total",
			Help: "Presenter failures while firing.",
		}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pushbridge_schedules_removed_total",
			Help: "Schedules removed, by reason.",
		}, []string{"reason"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pushbridge_schedules_pending",
			Help: "Schedules currently indexed.",
		}),
		armedTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pushbridge_alarm_armed_timestamp_seconds",
			Help: "Unix time the alarm is armed for, 0 when disarmed.",
		}),
		storeErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pushbridge_store_errors_total",
			Help: "Store operation failures, by operation.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.added, m.fired, m.presenterErrs, m.removed, m.pending, m.armedTimestamp, m.storeErrs)
	}
	return m
}
