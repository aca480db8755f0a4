package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initSearchMetrics(cfg Config) {
	m.searchQueries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memkeeper_search_queries_total",
			Help: "Total number of search queries",
		},
	)

	m.searchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memkeeper_search_duration_seconds",
			Help:    "Search latency in seconds",
			Buckets: cfg.SearchBuckets,
		},
	)

	m.registry.MustRegister(m.searchQueries)
	m.registry.MustRegister(m.searchDuration)
}

// RecordSearch records one search call.
func (m *Manager) RecordSearch(duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.searchQueries.Inc()
	m.searchDuration.Observe(duration.Seconds())
}
