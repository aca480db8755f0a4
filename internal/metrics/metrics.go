// Package metrics provides Prometheus instrumentation for memkeeper.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the registry and every collector. A disabled Manager
// accepts all calls and records nothing.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	maintenanceRuns     *prometheus.CounterVec
	maintenanceRecords  *prometheus.CounterVec
	maintenanceDuration prometheus.Histogram

	ingestFiles  *prometheus.CounterVec
	ingestChunks *prometheus.CounterVec

	searchQueries  prometheus.Counter
	searchDuration prometheus.Histogram
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	Path    string `koanf:"path" validate:"omitempty,startswith=/"`

	MaintenanceBuckets []float64 `koanf:"maintenance_buckets"`
	SearchBuckets      []float64 `koanf:"search_buckets"`
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:            false,
		Addr:               "127.0.0.1:9464",
		Path:               "/metrics",
		MaintenanceBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		SearchBuckets:      []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}
}

// NewManager creates a metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return NoOpManager()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{registry: registry, enabled: true}
	m.initMaintenanceMetrics(cfg)
	m.initIngestMetrics()
	m.initSearchMetrics(cfg)
	return m
}

// NoOpManager returns a disabled manager.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.Enabled() {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves the metrics endpoint until ctx is cancelled.
func (m *Manager) StartServer(ctx context.Context, addr, path string) error {
	if !m.Enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
