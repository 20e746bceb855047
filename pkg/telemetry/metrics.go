package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for environment reconciliation.
type Metrics struct {
	config MetricsConfig

	// Sync metrics
	syncs          *prometheus.CounterVec
	syncDuration   *prometheus.HistogramVec
	materializeErr *prometheus.CounterVec

	// Registry metrics
	merges       *prometheus.CounterVec
	environments *prometheus.GaugeVec
	apps         prometheus.Gauge

	// Error metrics
	errorsByKind *prometheus.CounterVec

	registry *prometheus.Registry
}

// Sync outcomes used as the "result" label.
const (
	SyncResultChanged   = "changed"
	SyncResultUnchanged = "unchanged"
	SyncResultFailed    = "failed"
)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		syncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "env_syncs_total",
				Help:      "Total number of environment sync attempts",
			},
			[]string{"result"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "env_sync_duration_seconds",
				Help:      "Duration of environment syncs in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"result"},
		),
		materializeErr: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "materializer_errors_total",
				Help:      "Total number of materializer failures",
			},
			[]string{"env_id"},
		),
		merges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "env_merges_total",
				Help:      "Total number of spec merges into environments",
			},
			[]string{"changed"},
		),
		environments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "environments",
				Help:      "Current number of registered environments by sync status",
			},
			[]string{"status"},
		),
		apps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "apps",
				Help:      "Current number of registered apps",
			},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of registry errors by kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.syncs,
		m.syncDuration,
		m.materializeErr,
		m.merges,
		m.environments,
		m.apps,
		m.errorsByKind,
	)

	return m, nil
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSync records a sync attempt with its outcome and duration.
func (m *Metrics) RecordSync(result string, duration time.Duration) {
	if m == nil || m.syncs == nil {
		return
	}
	m.syncs.WithLabelValues(result).Inc()
	m.syncDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordMaterializerError records a failed materialization.
func (m *Metrics) RecordMaterializerError(envID string) {
	if m == nil || m.materializeErr == nil {
		return
	}
	m.materializeErr.WithLabelValues(envID).Inc()
}

// RecordMerge records a merge into an environment.
func (m *Metrics) RecordMerge(changed bool) {
	if m == nil || m.merges == nil {
		return
	}
	label := "false"
	if changed {
		label = "true"
	}
	m.merges.WithLabelValues(label).Inc()
}

// SetEnvironmentCounts replaces the per-status environment gauge.
func (m *Metrics) SetEnvironmentCounts(counts map[string]int) {
	if m == nil || m.environments == nil {
		return
	}
	m.environments.Reset()
	for status, n := range counts {
		m.environments.WithLabelValues(status).Set(float64(n))
	}
}

// SetAppCount sets the number of registered apps.
func (m *Metrics) SetAppCount(n int) {
	if m == nil || m.apps == nil {
		return
	}
	m.apps.Set(float64(n))
}

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m == nil || m.errorsByKind == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// StartMetricsServer serves the registry over HTTP when a listen address is configured.
// It returns nil when there is nothing to serve. Errors are reported to logger.
func (m *Metrics) StartMetricsServer(logger *Logger) *http.Server {
	if !m.config.Enabled || m.config.ListenAddress == "" || m.registry == nil {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.zlog.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()

	return server
}
