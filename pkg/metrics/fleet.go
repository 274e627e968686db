package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RunningSchedulersGauge tracks how many tenant-org schedulers are live.
	RunningSchedulersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobfleet_running_schedulers",
		Help: "Number of tenant-org schedulers currently running.",
	})

	// BackoffKeysGauge tracks how many tenant-org keys carry a failure record.
	BackoffKeysGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobfleet_backoff_keys",
		Help: "Number of tenant-org keys currently tracked by the startup backoff policy.",
	})

	// SchedulerStartFailuresCounter counts scheduler startup failures by class.
	SchedulerStartFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobfleet_scheduler_start_failures_total",
		Help: "Number of scheduler startup failures partitioned by failure class.",
	}, []string{"class"})
)

// MustRegisterFleet registers the fleet collectors on the default registerer.
func MustRegisterFleet() {
	prometheus.MustRegister(RunningSchedulersGauge, BackoffKeysGauge, SchedulerStartFailuresCounter)
}
