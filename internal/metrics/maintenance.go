package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initMaintenanceMetrics(cfg Config) {
	m.maintenanceRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memkeeper_maintenance_runs_total",
			Help: "Lifecycle maintenance passes by status",
		},
		[]string{"status"},
	)

	m.maintenanceRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memkeeper_maintenance_records_total",
			Help: "Records handled by lifecycle maintenance by outcome",
		},
		[]string{"outcome"},
	)

	m.maintenanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memkeeper_maintenance_duration_seconds",
			Help:    "Lifecycle maintenance pass duration in seconds",
			Buckets: cfg.MaintenanceBuckets,
		},
	)

	m.registry.MustRegister(m.maintenanceRuns)
	m.registry.MustRegister(m.maintenanceRecords)
	m.registry.MustRegister(m.maintenanceDuration)
}

// RecordMaintenancePass records one completed pass. outcomes maps an outcome
// label such as "pruned" to the number of records it applied to.
func (m *Manager) RecordMaintenancePass(status string, outcomes map[string]int, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.maintenanceRuns.WithLabelValues(status).Inc()
	for outcome, n := range outcomes {
		if n > 0 {
			m.maintenanceRecords.WithLabelValues(outcome).Add(float64(n))
		}
	}
	m.maintenanceDuration.Observe(duration.Seconds())
}
