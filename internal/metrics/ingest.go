package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initIngestMetrics() {
	m.ingestFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memkeeper_ingest_files_total",
			Help: "Ingestion files by outcome",
		},
		[]string{"outcome"},
	)

	m.ingestChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memkeeper_ingest_chunks_total",
			Help: "Ingestion chunks by outcome",
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(m.ingestFiles)
	m.registry.MustRegister(m.ingestChunks)
}

// RecordIngestFile counts a file outcome (processed, deleted, failed, unsupported).
func (m *Manager) RecordIngestFile(outcome string) {
	if !m.Enabled() {
		return
	}
	m.ingestFiles.WithLabelValues(outcome).Inc()
}

// RecordIngestChunks adds n chunks with the given outcome.
func (m *Manager) RecordIngestChunks(outcome string, n int) {
	if !m.Enabled() || n <= 0 {
		return
	}
	m.ingestChunks.WithLabelValues(outcome).Add(float64(n))
}
